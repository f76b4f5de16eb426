package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
)

func newPresenter(cfg *config.Config, sinks *recordingSinks) *Presenter {
	return &Presenter{
		Queue:       comment.NewQueue(),
		Translation: comment.NewQueue(),
		Config:      func() *config.Config { return cfg },
		Sinks:       sinks.sinks(),
	}
}

func TestRunGeneration(t *testing.T) {
	var g RunGeneration
	id := g.Next()
	require.True(t, g.Alive(id))
	require.Equal(t, id, g.Current())
	next := g.Next()
	require.False(t, g.Alive(id))
	require.True(t, g.Alive(next))
}

func TestPresenter_BatchModeOrder(t *testing.T) {
	tests := []struct {
		name        string
		newestFirst bool
		want        []string
	}{
		{"newest first reverses", true, []string{"three", "two", "one"}},
		{"oldest first keeps order", false, []string{"one", "two", "three"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.NewestFirst = tt.newestFirst
			sinks := &recordingSinks{}
			speaker := &fakeSpeaker{}
			p := newPresenter(cfg, sinks)
			p.Speaker = speaker
			p.Queue.EnqueueMany([]comment.Comment{bbsComment(1, "one"), bbsComment(2, "two"), bbsComment(3, "three")})

			require.True(t, p.Tick(context.Background()))
			require.Zero(t, p.Queue.Len())

			b := sinks.Broadcasts()
			require.Len(t, b, 1)
			require.Equal(t, MessageAdd, b[0].Type)
			markup := b[0].Markup
			pos := make([]int, len(tt.want))
			for i, w := range tt.want {
				pos[i] = strings.Index(markup, ">"+w+"<")
				require.GreaterOrEqual(t, pos[i], 0, w)
			}
			require.IsIncreasing(t, pos)
			require.Len(t, sinks.Overlays(), 1)

			// one reaction per batch, for its last item
			require.Equal(t, []string{tt.want[2]}, speaker.Texts())
		})
	}
}

func TestPresenter_SingleModeOnePerTick(t *testing.T) {
	cfg := testConfig()
	cfg.CommentProcessType = config.ProcessSingle
	cfg.NewestFirst = true
	sinks := &recordingSinks{}
	speaker := &fakeSpeaker{}
	sound := &fakeSound{}
	cfg.PlaySE = true
	p := newPresenter(cfg, sinks)
	p.Speaker = speaker
	p.Sound = sound
	p.Queue.EnqueueMany([]comment.Comment{bbsComment(1, "one"), bbsComment(2, "two")})

	require.True(t, p.Tick(context.Background()))
	require.Equal(t, 1, p.Queue.Len())
	require.True(t, p.Tick(context.Background()))
	require.False(t, p.Tick(context.Background()))

	require.Equal(t, []string{"one", "two"}, speaker.Texts())
	require.Equal(t, 2, sound.Plays())
	require.Len(t, sinks.Broadcasts(), 2)
}

func TestPresenter_ArtSpeaksPlaceholder(t *testing.T) {
	cfg := testConfig()
	cfg.AAMode.Enable = true
	cfg.AAMode.SpeakWord = "アスキーアート"
	speaker := &fakeSpeaker{}
	p := newPresenter(cfg, &recordingSinks{})
	p.Speaker = speaker
	p.Detect = func(text string) bool { return strings.Contains(text, "art") }

	p.Queue.Enqueue(bbsComment(1, "art piece"))
	p.Tick(context.Background())
	p.Queue.Enqueue(bbsComment(2, "prose"))
	p.Tick(context.Background())

	require.Equal(t, []string{"アスキーアート", "prose"}, speaker.Texts())
}

func TestPresenter_CaptionModeResetsAfterHold(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayType = config.DisplayCaption
	cfg.MinDisplayTime = 20 * time.Millisecond
	cfg.InitMessage = "waiting"
	sinks := &recordingSinks{}
	p := newPresenter(cfg, sinks)
	p.Queue.Enqueue(bbsComment(1, "hello"))

	start := time.Now()
	p.Tick(context.Background())
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	b := sinks.Broadcasts()
	require.Len(t, b, 2)
	require.Equal(t, Message{Type: MessageReset, Markup: "waiting"}, b[1])
}

func TestPresenter_ListModeSendsNoReset(t *testing.T) {
	cfg := testConfig()
	sinks := &recordingSinks{}
	p := newPresenter(cfg, sinks)
	p.Queue.Enqueue(bbsComment(1, "hello"))
	p.Tick(context.Background())
	require.Len(t, sinks.Broadcasts(), 1)
}

func TestPresenter_CopiesToTranslationQueue(t *testing.T) {
	cfg := testConfig()
	p := newPresenter(cfg, &recordingSinks{})
	p.Queue.Enqueue(bbsComment(1, "hello"))
	p.Tick(context.Background())
	require.Zero(t, p.Translation.Len())

	cfg.Translate.Enable = true
	p.Queue.EnqueueMany([]comment.Comment{bbsComment(2, "a"), bbsComment(3, "b")})
	p.Tick(context.Background())
	require.Equal(t, 2, p.Translation.Len())
}

func TestPresenter_PanicDoesNotStopLoop(t *testing.T) {
	cfg := testConfig()
	cfg.CommentProcessType = config.ProcessSingle
	sinks := &recordingSinks{}
	speaker := &fakeSpeaker{panic: true}
	p := newPresenter(cfg, sinks)
	p.Speaker = speaker
	p.Queue.EnqueueMany([]comment.Comment{bbsComment(1, "bad"), bbsComment(2, "good")})

	var gen RunGeneration
	id := gen.Next()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, &gen, id)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(sinks.Broadcasts()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPresenter_RunExitsWhenGenerationMoves(t *testing.T) {
	p := newPresenter(testConfig(), &recordingSinks{})
	var gen RunGeneration
	id := gen.Next()
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), &gen, id)
		close(done)
	}()
	gen.Next()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop kept running after the generation moved")
	}

	// items queued after the stop are never presented
	p.Queue.Enqueue(bbsComment(1, "late"))
	require.Equal(t, 1, p.Queue.Len())
}
