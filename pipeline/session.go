package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/chat"
	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/render"
	"github.com/onnwee/commentcast/sound"
	"github.com/onnwee/commentcast/speech"
	"github.com/onnwee/commentcast/telemetry"
	"github.com/onnwee/commentcast/translate"
)

var (
	ErrSessionRunning = errors.New("session already running")
	ErrSessionStopped = errors.New("session not running")
	// ErrThreadUnreadable is returned by ApplyConfig when the new thread URL
	// yields no responses.
	ErrThreadUnreadable = errors.New("thread URL looks wrong")
)

// Deps are the collaborators a session is built from. Nil factories fall
// back to the production implementations.
type Deps struct {
	Fetcher   board.Fetcher
	Sinks     Sinks
	Announcer Announcer
	Archive   Archiver

	SpeechAck *ack.Latch
	SoundAck  *ack.Latch

	NewSpeaker    func(cfg *config.Config) (speech.Speaker, error)
	NewSound      func(cfg *config.Config) (SoundPlayer, error)
	NewTranslator func(ctx context.Context, cfg *config.Config) (translate.Translator, error)
	NewAdapters   func(ctx context.Context, cfg *config.Config) ([]chat.Adapter, error)

	// OnStatus observes every status update.
	OnStatus func(chat.Status)
}

// Session owns the state of one comment relay: the queues, the thread
// cursor, the active config snapshot and the run generation its loops are
// keyed on.
type Session struct {
	deps   Deps
	cfg    atomic.Pointer[config.Config]
	gen    RunGeneration
	queue  *comment.Queue
	trq    *comment.Queue
	cursor *board.Cursor
	status *StatusBoard
	logger *slog.Logger

	// cfgMu serializes config writes from ApplyConfig and thread rollover.
	// retired holds the threads the session rolled away from.
	cfgMu   sync.Mutex
	retired map[string]bool

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	adapters  []chat.Adapter
	bbs       *chat.BBS
	presenter *Presenter
}

// NewSession builds a stopped session around cfg.
func NewSession(cfg *config.Config, deps Deps) *Session {
	if deps.Fetcher == nil {
		deps.Fetcher = board.NewClient()
	}
	if deps.SpeechAck == nil {
		deps.SpeechAck = ack.New()
	}
	if deps.SoundAck == nil {
		deps.SoundAck = ack.New()
	}
	deps.Sinks = deps.Sinks.withDefaults()
	if deps.NewSpeaker == nil {
		deps.NewSpeaker = func(cfg *config.Config) (speech.Speaker, error) {
			var a speech.Announcer
			if deps.Announcer != nil {
				a = deps.Announcer
			}
			return speech.New(cfg, deps.SpeechAck, a)
		}
	}
	if deps.NewSound == nil {
		deps.NewSound = func(cfg *config.Config) (SoundPlayer, error) {
			var a sound.Announcer
			if deps.Announcer != nil {
				a = deps.Announcer
			}
			lib, err := sound.New(cfg, deps.SoundAck, a)
			if err != nil || lib == nil {
				return nil, err
			}
			return lib, nil
		}
	}
	if deps.NewTranslator == nil {
		deps.NewTranslator = translate.New
	}
	if deps.NewAdapters == nil {
		deps.NewAdapters = LiveAdapters
	}

	s := &Session{
		deps:    deps,
		queue:   comment.NewQueue(),
		trq:     comment.NewQueue(),
		cursor:  board.NewCursor(cfg.ThreadURL),
		retired: make(map[string]bool),
		logger:  slog.Default().With(slog.String("component", "session")),
	}
	s.status = NewStatusBoard(deps.OnStatus)
	s.cfg.Store(cfg.Clone())
	return s
}

// Config returns the active config snapshot. Callers must not modify it.
func (s *Session) Config() *config.Config { return s.cfg.Load() }

// Status returns the status board.
func (s *Session) Status() *StatusBoard { return s.status }

// Cursor returns the thread cursor.
func (s *Session) Cursor() *board.Cursor { return s.cursor }

// Generation returns the active run generation.
func (s *Session) Generation() uint64 { return s.gen.Current() }

// QueueDepths returns the pending presentation and translation counts.
func (s *Session) QueueDepths() (presentation, translation int) {
	return s.queue.Len(), s.trq.Len()
}

// Running reports whether the session loops are active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PollerState returns the bbs poller state and its current error streak.
func (s *Session) PollerState() (board.State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bbs == nil {
		return board.StateStopped, 0
	}
	p := s.bbs.Poller()
	return p.State(), p.ConsecutiveErrors()
}

// Start validates the config and starts the adapters and scheduler loops.
// ctx bounds the whole run, not just the call.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSessionRunning
	}
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	speaker, err := s.deps.NewSpeaker(cfg)
	if err != nil {
		return err
	}
	snd, err := s.deps.NewSound(cfg)
	if err != nil {
		// the session still runs without the sound effect
		s.logger.Warn("sound effect disabled", slog.String("se_path", cfg.SEPath), slog.Any("err", err))
		snd = nil
	}
	var tr translate.Translator
	if cfg.Translate.Enable {
		if tr, err = s.deps.NewTranslator(ctx, cfg); err != nil {
			return fmt.Errorf("translator: %w", err)
		}
	}
	live, err := s.deps.NewAdapters(ctx, cfg)
	if err != nil {
		return err
	}

	s.queue.Clear()
	s.trq.Clear()
	s.status.Reset()
	s.cursor.Reset(cfg.ThreadURL)
	id := s.gen.Next()
	runCtx, cancel := context.WithCancel(ctx)
	alive := func() bool { return s.gen.Alive(id) }

	s.bbs = chat.NewBBS(s.deps.Fetcher, s.cursor, s.boardSettings, alive)
	adapters := append([]chat.Adapter{s.bbs}, live...)
	for _, a := range adapters {
		a.Subscribe(s.handlers(id))
		if err := a.Start(runCtx); err != nil {
			s.logger.Warn("source not started", slog.String("source", string(a.Source())), slog.Any("err", err))
			s.status.Set(chat.Status{Source: a.Source(), Category: chat.CategoryStatus, Message: chat.StatusError})
		}
	}

	s.presenter = &Presenter{
		Queue:       s.queue,
		Translation: s.trq,
		Config:      s.Config,
		Sinks:       s.deps.Sinks,
		Sound:       snd,
		Speaker:     speaker,
		Archive:     s.deps.Archive,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.presenter.Run(runCtx, &s.gen, id)
	}()
	if tr != nil {
		ts := &TranslationScheduler{Queue: s.trq, Config: s.Config, Translator: tr, Sink: s.deps.Sinks.Translation}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ts.Run(runCtx, &s.gen, id)
		}()
	}

	s.adapters = adapters
	s.cancel = cancel
	s.running = true
	telemetry.UpdateSessionGauge(true)
	s.logger.Info("session started",
		slog.Uint64("generation", id),
		slog.String("thread", cfg.ThreadURL),
		slog.Int("sources", len(adapters)),
		slog.Bool("translate", tr != nil))
	return nil
}

// Stop invalidates the run generation, stops every adapter, waits for the
// loops to exit and drops whatever is still queued.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrSessionStopped
	}
	id := s.gen.Next()
	s.cancel()
	for _, a := range s.adapters {
		a.Stop()
		s.status.Set(chat.Status{Source: a.Source(), Category: chat.CategoryStatus, Message: chat.StatusEnd})
	}
	s.wg.Wait()
	s.queue.Clear()
	s.trq.Clear()
	telemetry.SetQueueDepths(0, 0)

	s.adapters = nil
	s.cancel = nil
	s.running = false
	telemetry.UpdateSessionGauge(false)
	s.logger.Info("session stopped", slog.Uint64("generation", id))
	return nil
}

// ApplyConfig replaces the active config. When the thread URL changes the new
// thread is fetched first: its newest response is shown in the overlay, the
// cursor moves past it and the title is reported. If the thread yields no
// responses the active config is left untouched and ErrThreadUnreadable is
// returned. The idle caption is sent either way. A thread URL the session
// already rolled away from is treated as stale and keeps the current thread.
func (s *Session) ApplyConfig(ctx context.Context, next *config.Config) error {
	if err := next.ValidateOptions(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { ResetCaption(s.deps.Sinks.Broadcast, s.Config()) }()
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next = next.Clone()
	cur := s.Config()
	if next.ThreadURL != cur.ThreadURL && s.retired[next.ThreadURL] {
		s.logger.Info("ignoring stale thread url", slog.String("stale", next.ThreadURL), slog.String("thread", cur.ThreadURL))
		next.ThreadURL = cur.ThreadURL
	}
	if next.ThreadURL != "" && next.ThreadURL != cur.ThreadURL {
		rows, err := s.deps.Fetcher.FetchResponses(ctx, next.ThreadURL, 0)
		var numbered []comment.Comment
		for _, r := range rows {
			if r.HasNumber() {
				numbered = append(numbered, r)
			}
		}
		if err != nil || len(numbered) == 0 {
			s.logger.Warn("new thread unreadable", slog.String("thread", next.ThreadURL), slog.Any("err", err))
			if err == nil {
				return ErrThreadUnreadable
			}
			return fmt.Errorf("%w: %w", ErrThreadUnreadable, err)
		}
		newest := numbered[len(numbered)-1]
		n, _ := newest.NumberValue()
		s.cursor.Set(next.ThreadURL, n)
		s.showContext(next, []comment.Comment{newest})
		if title := numbered[0].ThreadTitle; title != "" {
			s.status.Set(chat.Status{Source: comment.SourceBBS, Category: chat.CategoryTitle, Message: title})
		}
		s.logger.Info("thread changed", slog.String("thread", next.ThreadURL), slog.Int("res", n))
	}
	s.cfg.Store(next)
	return nil
}

// commentTests are the canned bodies CommentTest picks from.
var commentTests = []string{
	"ﾃｽﾃｽｗｗｗｗｗｗｗｗｗｗｗｗｗｗｗｗｗｗｗ",
	"∈(･ω･)∋ ﾀﾞﾑｰ",
	"おめーらいつまで経っても<br />ピアキャストかよ",
	"Hello everyone!<br />I&#39;m commentcast<br /><br />Yes.",
}

// CommentTest sends a canned comment through the presentation path. While
// running it is queued like any other comment; otherwise it is presented
// immediately, reaction included.
func (s *Session) CommentTest(ctx context.Context) (comment.Comment, error) {
	c := comment.Comment{
		Name:     "ななしさん",
		Text:     commentTests[rand.Intn(len(commentTests))],
		ImageURL: comment.DefaultIcon(comment.SourceBBS),
		Source:   comment.SourceBBS,
	}
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		s.queue.Enqueue(c)
		return c, nil
	}

	cfg := s.Config()
	speaker, err := s.deps.NewSpeaker(cfg)
	if err != nil {
		return c, err
	}
	snd, err := s.deps.NewSound(cfg)
	if err != nil {
		s.logger.Warn("sound effect disabled", slog.Any("err", err))
		snd = nil
	}
	p := &Presenter{Config: s.Config, Sinks: s.deps.Sinks, Sound: snd, Speaker: speaker}
	p.Present(ctx, cfg, []comment.Comment{c})
	return c, nil
}

func (s *Session) boardSettings() board.Settings {
	cfg := s.Config()
	return board.Settings{
		Interval:   cfg.Interval,
		MoveThread: cfg.MoveThread,
		ResLimit:   cfg.NotifyThreadResLimit,
		ErrorLimit: cfg.NotifyThreadConnectionErrorLimit,
	}
}

// rollover records the thread the poller moved to.
func (s *Session) rollover(threadURL string) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	prev := s.Config()
	if prev.ThreadURL != "" && prev.ThreadURL != threadURL {
		s.retired[prev.ThreadURL] = true
	}
	delete(s.retired, threadURL)
	s.cfg.Store(prev.WithThreadURL(threadURL))
}

// handlers binds adapter events to this session for generation id. Events
// from an older generation are dropped. They must not take s.mu: Stop holds
// it while adapters drain.
func (s *Session) handlers(id uint64) chat.Handlers {
	return chat.Handlers{
		OnStatus: func(st chat.Status) {
			if !s.gen.Alive(id) {
				return
			}
			if st.Category == chat.CategoryThread {
				s.rollover(st.Message)
			}
			s.status.Set(st)
		},
		OnComment: func(c comment.Comment) {
			if !s.gen.Alive(id) {
				return
			}
			telemetry.IncReceived(string(c.Source))
			if !s.queue.Enqueue(c) {
				telemetry.IncDeduped()
			}
		},
		OnBacklog: func(c comment.Comment) {
			if !s.gen.Alive(id) {
				return
			}
			s.showContext(s.Config(), []comment.Comment{c})
		},
		OnError: func(err error) {
			s.logger.Debug("source error", slog.Any("err", err))
		},
	}
}

// showContext puts items straight into the overlay, outside the queue.
func (s *Session) showContext(cfg *config.Config, cs []comment.Comment) {
	cs = comment.MarkArt(cs, nil)
	s.deps.Sinks.Overlay.ShowOverlay(cfg, render.List(cs, render.OptionsFrom(cfg), render.TargetOverlay))
}
