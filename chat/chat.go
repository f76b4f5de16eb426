package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/commentcast/comment"
)

// Status categories reported by adapters.
const (
	CategoryStatus = "status"
	CategoryTitle  = "title"
	CategoryLiveID = "liveId"
	// CategoryThread carries the new thread URL after a bbs rollover.
	CategoryThread = "thread"
)

// Status messages shared by the live chat adapters.
const (
	StatusWaiting  = "connection waiting"
	StatusWaitLive = "wait live"
	StatusOK       = "ok"
	StatusError    = "error!"
	StatusEnd      = "connection end"
)

// Status is one status line from an adapter.
type Status struct {
	Source   comment.Source `json:"source"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
}

// Handlers receive adapter events. Any field may be nil.
type Handlers struct {
	OnStatus func(Status)
	// OnComment receives new comments bound for the presentation queue.
	OnComment func(comment.Comment)
	// OnBacklog receives context items shown directly in the overlay, such
	// as the newest message present when the adapter connected.
	OnBacklog func(comment.Comment)
	OnError   func(error)
}

// Adapter is a live comment source.
type Adapter interface {
	Source() comment.Source
	// Subscribe replaces the registered handlers.
	Subscribe(h Handlers)
	// Start begins reading in the background. It fails fast on missing
	// configuration and never blocks on the network.
	Start(ctx context.Context) error
	// Stop ends reading, releases the handlers and waits for the reader to
	// exit. No events are delivered after Stop returns.
	Stop()
}

// base implements the event plumbing shared by every adapter.
type base struct {
	source comment.Source
	logger *slog.Logger

	mu       sync.RWMutex
	handlers Handlers

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *base) init(src comment.Source) {
	b.source = src
	b.logger = slog.Default().With(slog.String("component", string(src)))
}

func (b *base) Source() comment.Source { return b.source }

func (b *base) Subscribe(h Handlers) {
	b.mu.Lock()
	b.handlers = h
	b.mu.Unlock()
}

// run starts fn in a goroutine bound to a child of ctx.
func (b *base) run(ctx context.Context, fn func(ctx context.Context)) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go func() {
		defer close(done)
		fn(rctx)
	}()
}

// stop cancels the reader, waits for it and drops the handlers.
func (b *base) stop() {
	b.runMu.Lock()
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel, b.done = nil, nil
	}
	b.runMu.Unlock()

	b.mu.Lock()
	h := b.handlers.OnStatus
	b.handlers = Handlers{}
	b.mu.Unlock()
	if h != nil {
		h(Status{Source: b.source, Category: CategoryStatus, Message: StatusEnd})
	}
}

func (b *base) Stop() { b.stop() }

func (b *base) status(category, message string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.handlers.OnStatus != nil {
		b.handlers.OnStatus(Status{Source: b.source, Category: category, Message: message})
	}
}

func (b *base) comment(c comment.Comment) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.handlers.OnComment != nil {
		b.handlers.OnComment(c)
	}
}

func (b *base) backlog(c comment.Comment) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.handlers.OnBacklog != nil {
		b.handlers.OnBacklog(c)
	}
}

func (b *base) fail(err error) {
	b.logger.Warn("chat source error", slog.Any("err", err))
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.handlers.OnStatus != nil {
		b.handlers.OnStatus(Status{Source: b.source, Category: CategoryStatus, Message: StatusError})
	}
	if b.handlers.OnError != nil {
		b.handlers.OnError(err)
	}
}

// sleepCtx waits for d or until ctx is done, reporting whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff doubles d up to limit.
func backoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}
