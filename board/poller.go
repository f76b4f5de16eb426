package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/telemetry"
)

// RolloverThreshold is the response count at which a thread is full.
const RolloverThreshold = 1000

// DefaultLimitPause is how long polling pauses after a limit notification.
const DefaultLimitPause = 10 * time.Second

// Status categories reported by the poller.
const (
	CategoryStatus = "status"
	CategoryTitle  = "title"
)

// State is the poller's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateFirstFetch
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFirstFetch:
		return "first_fetch"
	case StatePolling:
		return "polling"
	default:
		return "stopped"
	}
}

// Cursor tracks the thread being read and the highest response number
// already handled. A zero number means the next fetch is a first fetch.
type Cursor struct {
	mu   sync.Mutex
	url  string
	last int
}

// NewCursor returns a cursor at the start of threadURL.
func NewCursor(threadURL string) *Cursor { return &Cursor{url: threadURL} }

// Snapshot returns the thread URL and last seen number together.
func (c *Cursor) Snapshot() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url, c.last
}

// Last returns the last seen number.
func (c *Cursor) Last() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reset points the cursor at threadURL and zeroes it.
func (c *Cursor) Reset(threadURL string) { c.Set(threadURL, 0) }

// Set points the cursor at threadURL with last already seen.
func (c *Cursor) Set(threadURL string, last int) {
	c.mu.Lock()
	c.url, c.last = threadURL, last
	c.mu.Unlock()
}

// Advance raises the cursor to n if it still points at threadURL. It reports
// false when the thread changed underneath the caller.
func (c *Cursor) Advance(threadURL string, n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.url != threadURL {
		return false
	}
	if n > c.last {
		c.last = n
	}
	return true
}

// Sink receives everything the poller produces.
type Sink interface {
	// Enqueue hands new responses to the presentation queue.
	Enqueue(cs []comment.Comment)
	// ShowOverlay displays thread-context items directly, bypassing the queue.
	ShowOverlay(cs []comment.Comment)
	// Status reports a status line for the bbs source.
	Status(category, message string)
	// ThreadMoved records that polling switched to another thread.
	ThreadMoved(threadURL string)
}

// Settings are the config values the poller reads on every tick.
type Settings struct {
	Interval   time.Duration
	MoveThread bool
	ResLimit   int
	ErrorLimit int
}

// Poller polls one thread for new responses.
type Poller struct {
	fetcher  Fetcher
	cursor   *Cursor
	sink     Sink
	settings func() Settings
	logger   *slog.Logger

	// LimitPause overrides DefaultLimitPause.
	LimitPause time.Duration

	state  atomic.Int32
	errors atomic.Int32
}

// NewPoller wires a poller; settings is consulted on every tick so config
// replacements take effect without a restart.
func NewPoller(f Fetcher, cursor *Cursor, sink Sink, settings func() Settings) *Poller {
	return &Poller{
		fetcher:    f,
		cursor:     cursor,
		sink:       sink,
		settings:   settings,
		logger:     slog.Default().With(slog.String("component", "bbs_poller")),
		LimitPause: DefaultLimitPause,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State { return State(p.state.Load()) }

// ConsecutiveErrors returns the current run of failed fetches.
func (p *Poller) ConsecutiveErrors() int { return int(p.errors.Load()) }

// Run ticks until ctx is done or alive reports false.
func (p *Poller) Run(ctx context.Context, alive func() bool) {
	defer p.state.Store(int32(StateStopped))
	for {
		if ctx.Err() != nil || !alive() {
			return
		}
		p.Tick(ctx)
		if ctx.Err() != nil || !alive() {
			return
		}
		if !sleep(ctx, p.settings().Interval) {
			return
		}
	}
}

// Tick performs one fetch and its side checks.
func (p *Poller) Tick(ctx context.Context) {
	threadURL, after := p.cursor.Snapshot()
	if threadURL == "" {
		p.state.Store(int32(StateIdle))
		return
	}
	first := after == 0
	if first {
		p.state.Store(int32(StateFirstFetch))
	}

	var (
		rows []comment.Comment
		err  error
	)
	telemetry.TimeFunc(telemetry.BoardFetchDuration, func() {
		rows, err = p.fetcher.FetchResponses(ctx, threadURL, after)
	})
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		p.fail(ClassifyFetchError(err).String(), []comment.Comment{ErrorRow(err)}, err)
	default:
		p.receive(threadURL, after, rows)
	}

	p.checkRollover(ctx)
	p.checkResLimit(ctx)
}

func (p *Poller) receive(threadURL string, after int, rows []comment.Comment) {
	first := after == 0
	if first && len(rows) > 0 && rows[0].ThreadTitle != "" {
		p.sink.Status(CategoryTitle, rows[0].ThreadTitle)
	}

	var (
		fresh   []comment.Comment
		invalid []comment.Comment
		newest  int
	)
	for _, r := range rows {
		n, ok := r.NumberValue()
		if !ok {
			invalid = append(invalid, r)
			continue
		}
		if n <= after {
			continue
		}
		fresh = append(fresh, r)
		if n > newest {
			newest = n
		}
	}

	if len(fresh) == 0 {
		if len(invalid) > 0 {
			p.fail("format", invalid, fmt.Errorf("%d responses without a number", len(invalid)))
		}
		return
	}
	if !p.cursor.Advance(threadURL, newest) {
		// thread replaced while fetching; the next tick starts over
		return
	}
	p.errors.Store(0)
	telemetry.SetConsecutiveErrors(0)
	p.state.Store(int32(StatePolling))

	if first {
		p.sink.ShowOverlay(fresh[len(fresh)-1:])
	} else {
		p.sink.Enqueue(fresh)
	}
	p.sink.Status(CategoryStatus, fmt.Sprintf("ok res=%d", newest))
}

func (p *Poller) fail(class string, display []comment.Comment, err error) {
	n := int(p.errors.Add(1))
	telemetry.IncFetchError(class)
	telemetry.SetConsecutiveErrors(n)

	msg := "error!"
	if limit := p.settings().ErrorLimit; limit > 0 && n >= limit {
		msg = fmt.Sprintf("error! (%d consecutive)", n)
		p.logger.Warn("thread fetch keeps failing", slog.Int("consecutive", n), slog.Int("limit", limit), slog.Any("err", err))
	} else {
		p.logger.Debug("thread fetch failed", slog.String("class", class), slog.Any("err", err))
	}
	p.sink.Status(CategoryStatus, msg)
	p.sink.ShowOverlay(display)
}

func (p *Poller) checkRollover(ctx context.Context) {
	if !p.settings().MoveThread {
		return
	}
	threadURL, last := p.cursor.Snapshot()
	if threadURL == "" || last < RolloverThreshold {
		return
	}
	list, err := p.fetcher.FetchThreadList(ctx, threadURL)
	if err != nil {
		p.logger.Warn("thread list fetch failed", slog.String("thread", threadURL), slog.Any("err", err))
		return
	}
	for _, cand := range list {
		if SameThread(cand.URL, threadURL) || cand.ResponseCount >= RolloverThreshold {
			continue
		}
		p.sink.Enqueue([]comment.Comment{
			comment.System(fmt.Sprintf("レス%dを超えました。次スレ候補 「%s」 に移動します", RolloverThreshold, cand.Title)),
		})
		p.cursor.Reset(cand.URL)
		p.state.Store(int32(StateFirstFetch))
		p.sink.ThreadMoved(cand.URL)
		p.logger.Info("moved to next thread", slog.String("from", threadURL), slog.String("to", cand.URL))
		return
	}
}

func (p *Poller) checkResLimit(ctx context.Context) {
	limit := p.settings().ResLimit
	if limit <= 0 || p.cursor.Last() < limit {
		return
	}
	p.sink.ShowOverlay([]comment.Comment{
		comment.System(fmt.Sprintf("レスが%dを超えました。次スレを立ててください。", limit)),
	})
	sleep(ctx, p.LimitPause)
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
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
