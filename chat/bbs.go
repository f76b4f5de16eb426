package chat

import (
	"context"
	"errors"

	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/comment"
)

// BBS adapts the thread poller to the Adapter contract.
type BBS struct {
	base
	poller *board.Poller
	cursor *board.Cursor
	alive  func() bool
}

// NewBBS builds the textboard source. alive is checked between ticks and
// ends polling once it reports false.
func NewBBS(f board.Fetcher, cursor *board.Cursor, settings func() board.Settings, alive func() bool) *BBS {
	a := &BBS{cursor: cursor, alive: alive}
	a.init(comment.SourceBBS)
	a.poller = board.NewPoller(f, cursor, a, settings)
	return a
}

// Poller exposes the underlying poller for status inspection.
func (a *BBS) Poller() *board.Poller { return a.poller }

// Start implements Adapter.
func (a *BBS) Start(ctx context.Context) error {
	if u, _ := a.cursor.Snapshot(); u == "" {
		return errors.New("bbs: thread url not configured")
	}
	a.status(CategoryStatus, StatusWaiting)
	a.run(ctx, func(ctx context.Context) {
		a.poller.Run(ctx, a.alive)
	})
	return nil
}

// Enqueue implements board.Sink.
func (a *BBS) Enqueue(cs []comment.Comment) {
	for _, c := range cs {
		a.comment(c)
	}
}

// ShowOverlay implements board.Sink.
func (a *BBS) ShowOverlay(cs []comment.Comment) {
	for _, c := range cs {
		a.backlog(c)
	}
}

// Status implements board.Sink.
func (a *BBS) Status(category, message string) { a.status(category, message) }

// ThreadMoved implements board.Sink.
func (a *BBS) ThreadMoved(threadURL string) { a.status(CategoryThread, threadURL) }
