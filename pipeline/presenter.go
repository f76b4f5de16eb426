package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/render"
	"github.com/onnwee/commentcast/speech"
	"github.com/onnwee/commentcast/telemetry"
)

// IdleDelay is how long the presentation loop waits on an empty queue.
const IdleDelay = 100 * time.Millisecond

// Presenter drains the presentation queue, renders each batch to the sinks
// and runs the reaction cycle (sound, speech, display hold) for it.
type Presenter struct {
	Queue       *comment.Queue
	Translation *comment.Queue
	Config      func() *config.Config
	Sinks       Sinks

	// Sound and Speaker may be nil.
	Sound   SoundPlayer
	Speaker speech.Speaker
	Archive Archiver
	Detect  comment.ArtDetector

	logger *slog.Logger
}

func (p *Presenter) log() *slog.Logger {
	if p.logger == nil {
		p.logger = slog.Default().With(slog.String("component", "presenter"))
	}
	return p.logger
}

// Run ticks until ctx is done or generation id is no longer active.
func (p *Presenter) Run(ctx context.Context, gen *RunGeneration, id uint64) {
	p.log().Debug("presentation loop started", slog.Uint64("generation", id))
	defer p.log().Debug("presentation loop stopped", slog.Uint64("generation", id))
	for gen.Alive(id) && ctx.Err() == nil {
		if p.Tick(ctx) {
			continue
		}
		if !sleep(ctx, IdleDelay) {
			return
		}
	}
}

// Tick presents what the queue holds, per the configured process type, and
// reports whether anything was drained. A panic while presenting is logged
// and the tick counts as done.
func (p *Presenter) Tick(ctx context.Context) (worked bool) {
	cfg := p.Config()
	var batch []comment.Comment
	if cfg.CommentProcessType == config.ProcessSingle {
		c, ok := p.Queue.DrainOne()
		if !ok {
			return false
		}
		batch = []comment.Comment{c}
	} else {
		batch = p.Queue.DrainAll()
		if len(batch) == 0 {
			return false
		}
		if cfg.NewestFirst {
			slices.Reverse(batch)
		}
	}
	p.updateDepth()

	defer func() {
		if r := recover(); r != nil {
			telemetry.IncPanic("presenter")
			p.log().Error("presentation tick panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			worked = true
		}
	}()
	if cfg.Translate.Enable && p.Translation != nil {
		p.Translation.EnqueueMany(batch)
		p.updateDepth()
	}
	p.Present(ctx, cfg, batch)
	return true
}

// Present renders batch to the broadcast and overlay sinks, then reacts to
// its last comment.
func (p *Presenter) Present(ctx context.Context, cfg *config.Config, batch []comment.Comment) {
	if len(batch) == 0 {
		return
	}
	sinks := p.Sinks.withDefaults()
	batch = comment.MarkArt(batch, p.Detect)
	opts := render.OptionsFrom(cfg)
	sinks.Broadcast.Broadcast(Message{Type: MessageAdd, Markup: render.List(batch, opts, render.TargetBroadcast)})
	sinks.Overlay.ShowOverlay(cfg, render.List(batch, opts, render.TargetOverlay))
	telemetry.AddPresented(len(batch))
	p.archive(ctx, cfg, batch)

	telemetry.TimeFunc(telemetry.ReactionDuration, func() {
		p.react(ctx, cfg, batch[len(batch)-1])
	})
}

// react plays the sound effect, speaks c and holds a caption on screen.
func (p *Presenter) react(ctx context.Context, cfg *config.Config, c comment.Comment) {
	if cfg.PlaySE && p.Sound != nil && p.Sound.Available() {
		if err := p.Sound.PlayRandom(ctx); err != nil {
			p.log().Warn("sound effect failed", slog.Any("err", err))
		}
	}
	if p.Speaker != nil {
		text := render.SpeechText(c, render.SpeechOptionsFrom(cfg))
		if c.IsArt && cfg.AAMode.Enable {
			text = cfg.AAMode.SpeakWord
		}
		if err := p.Speaker.Speak(ctx, text); err != nil {
			p.log().Warn("speech failed", slog.Any("err", err))
		}
	}
	if cfg.Caption() {
		if !sleep(ctx, cfg.MinDisplayTime) {
			return
		}
		ResetCaption(p.Sinks.withDefaults().Broadcast, cfg)
	}
}

func (p *Presenter) archive(ctx context.Context, cfg *config.Config, batch []comment.Comment) {
	if p.Archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Archive.Archive(actx, cfg.ThreadURL, batch); err != nil {
		p.log().Warn("archive failed", slog.Int("comments", len(batch)), slog.Any("err", err))
	}
}

func (p *Presenter) updateDepth() {
	tr := 0
	if p.Translation != nil {
		tr = p.Translation.Len()
	}
	telemetry.SetQueueDepths(p.Queue.Len(), tr)
}

// ResetCaption sends the idle caption to broadcast listeners. It only applies
// to the caption display type.
func ResetCaption(b Broadcaster, cfg *config.Config) {
	if !cfg.Caption() {
		return
	}
	b.Broadcast(Message{Type: MessageReset, Markup: cfg.InitMessage})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
