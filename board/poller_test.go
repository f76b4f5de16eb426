package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/testutil"
)

type fakeFetcher struct {
	mu       sync.Mutex
	rows     map[string][]comment.Comment
	list     []ThreadSummary
	err      error
	requests []int
}

func (f *fakeFetcher) FetchResponses(_ context.Context, threadURL string, after int) ([]comment.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, after)
	if f.err != nil {
		return nil, f.err
	}
	// deliberately inclusive of the boundary
	var out []comment.Comment
	for _, r := range f.rows[threadURL] {
		if n, _ := r.NumberValue(); n >= after || !r.HasNumber() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchThreadList(context.Context, string) ([]ThreadSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, nil
}

func responses(from, to int) []comment.Comment {
	var out []comment.Comment
	for i := from; i <= to; i++ {
		out = append(out, comment.Comment{Number: fmt.Sprint(i), Text: fmt.Sprintf("res %d", i), Source: comment.SourceBBS})
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	queued   []comment.Comment
	overlay  []comment.Comment
	statuses []string
	moved    []string
}

func (s *recordingSink) Enqueue(cs []comment.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, cs...)
}

func (s *recordingSink) ShowOverlay(cs []comment.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = append(s.overlay, cs...)
}

func (s *recordingSink) Status(category, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, category+":"+message)
}

func (s *recordingSink) ThreadMoved(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moved = append(s.moved, u)
}

const threadA = "https://example.com/test/read.cgi/board/100/"

func newTestPoller(f Fetcher, cursor *Cursor, sink Sink, set Settings) *Poller {
	p := NewPoller(f, cursor, sink, func() Settings { return set })
	p.LimitPause = time.Millisecond
	return p
}

func TestPoller_IdleWithoutThread(t *testing.T) {
	f := &fakeFetcher{}
	p := newTestPoller(f, NewCursor(""), &recordingSink{}, Settings{})
	p.Tick(context.Background())
	require.Equal(t, StateIdle, p.State())
	require.Empty(t, f.requests)
}

func TestPoller_FirstFetchShowsNewestOnly(t *testing.T) {
	rows := responses(1, 5)
	rows[0].ThreadTitle = "テストスレ"
	f := &fakeFetcher{rows: map[string][]comment.Comment{threadA: rows}}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	p := newTestPoller(f, cursor, sink, Settings{})

	p.Tick(context.Background())

	require.Equal(t, StatePolling, p.State())
	require.Equal(t, 5, cursor.Last())
	require.Empty(t, sink.queued, "first fetch bypasses the queue")
	require.Len(t, sink.overlay, 1)
	require.Equal(t, "5", sink.overlay[0].Number)
	require.Contains(t, sink.statuses, "title:テストスレ")
	require.Contains(t, sink.statuses, "status:ok res=5")
}

func TestPoller_SubsequentFetchFiltersAndEnqueues(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]comment.Comment{threadA: responses(1, 8)}}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	cursor.Set(threadA, 5)
	p := newTestPoller(f, cursor, sink, Settings{})

	p.Tick(context.Background())

	require.Equal(t, []int{5}, f.requests)
	require.Len(t, sink.queued, 3)
	for _, c := range sink.queued {
		n, _ := c.NumberValue()
		require.Greater(t, n, 5)
	}
	require.Equal(t, 8, cursor.Last())

	// nothing new: no enqueue, cursor unchanged
	p.Tick(context.Background())
	require.Len(t, sink.queued, 3)
	require.Equal(t, 8, cursor.Last())
}

func TestPoller_TransportErrorKeepsPolling(t *testing.T) {
	f := &fakeFetcher{err: &FetchError{URL: threadA, StatusCode: 503}}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	cursor.Set(threadA, 3)
	p := newTestPoller(f, cursor, sink, Settings{ErrorLimit: 2})

	p.Tick(context.Background())
	require.Equal(t, 1, p.ConsecutiveErrors())
	require.Equal(t, "status:error!", sink.statuses[len(sink.statuses)-1])
	require.Len(t, sink.overlay, 1)
	require.False(t, sink.overlay[0].HasNumber())

	p.Tick(context.Background())
	require.Equal(t, "status:error! (2 consecutive)", sink.statuses[len(sink.statuses)-1])
	require.Equal(t, 3, cursor.Last(), "errors never move the cursor")

	f.mu.Lock()
	f.err = nil
	f.rows = map[string][]comment.Comment{threadA: responses(1, 4)}
	f.mu.Unlock()
	p.Tick(context.Background())
	require.Equal(t, 0, p.ConsecutiveErrors())
	require.Equal(t, 4, cursor.Last())
}

func TestPoller_NumberlessRowsAreFormatErrors(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]comment.Comment{threadA: {{Name: "error", Text: "broken", Source: comment.SourceBBS}}}}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	p := newTestPoller(f, cursor, sink, Settings{})

	p.Tick(context.Background())
	require.Equal(t, 0, cursor.Last())
	require.Contains(t, sink.statuses, "status:error!")
	require.Equal(t, "broken", sink.overlay[0].Text)
}

func TestPoller_Rollover(t *testing.T) {
	const threadB = "https://example.com/test/read.cgi/board/200/"
	f := &fakeFetcher{
		rows: map[string][]comment.Comment{threadA: responses(999, 1001)},
		list: []ThreadSummary{
			{URL: threadA, Title: "今のスレ", ResponseCount: 1001},
			{URL: "https://example.com/test/read.cgi/board/150/", Title: "埋まったスレ", ResponseCount: 1000},
			{URL: threadB, Title: "次スレ", ResponseCount: 3},
		},
	}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	cursor.Set(threadA, 998)
	p := newTestPoller(f, cursor, sink, Settings{MoveThread: true})

	p.Tick(context.Background())

	u, last := cursor.Snapshot()
	require.Equal(t, threadB, u)
	require.Equal(t, 0, last)
	require.Equal(t, StateFirstFetch, p.State())
	require.Equal(t, []string{threadB}, sink.moved)
	sys := sink.queued[len(sink.queued)-1]
	require.Equal(t, comment.SourceSystem, sys.Source)
	require.True(t, strings.Contains(sys.Text, "次スレ"))
}

func TestPoller_RolloverDisabledOrNoCandidate(t *testing.T) {
	f := &fakeFetcher{
		rows: map[string][]comment.Comment{threadA: responses(1000, 1000)},
		list: []ThreadSummary{{URL: threadA, ResponseCount: 1000}},
	}
	for _, move := range []bool{false, true} {
		sink := &recordingSink{}
		cursor := NewCursor(threadA)
		cursor.Set(threadA, 999)
		p := newTestPoller(f, cursor, sink, Settings{MoveThread: move})
		p.Tick(context.Background())
		u, _ := cursor.Snapshot()
		require.Equal(t, threadA, u)
		require.Empty(t, sink.moved)
	}
}

func TestPoller_ResLimitNotify(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]comment.Comment{threadA: responses(1, 10)}}
	sink := &recordingSink{}
	cursor := NewCursor(threadA)
	cursor.Set(threadA, 9)
	p := newTestPoller(f, cursor, sink, Settings{ResLimit: 10})

	p.Tick(context.Background())
	last := sink.overlay[len(sink.overlay)-1]
	require.Equal(t, comment.SourceSystem, last.Source)
	require.Contains(t, last.Text, "レスが10を超えました")
}

func TestPoller_RunStopsWhenNotAlive(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]comment.Comment{threadA: responses(1, 1)}}
	cursor := NewCursor(threadA)
	p := newTestPoller(f, cursor, &recordingSink{}, Settings{Interval: time.Millisecond})

	var mu sync.Mutex
	ticks := 0
	alive := func() bool {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		return ticks < 4
	}
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), alive)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	require.Equal(t, StateStopped, p.State())
	f.mu.Lock()
	require.LessOrEqual(t, len(f.requests), 2)
	f.mu.Unlock()
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	p := newTestPoller(f, NewCursor(threadA), &recordingSink{}, Settings{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func() bool { return true })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller ignored cancellation")
	}
}

func TestPoller_AgainstMockBoard(t *testing.T) {
	board := testutil.NewMockBoard(t)
	board.SetThread("100",
		testutil.DatLine("名無し", "2024/01/01", "一", "スレ"),
		testutil.DatLine("名無し", "2024/01/01", "二", ""),
	)
	sink := &recordingSink{}
	cursor := NewCursor(board.ThreadURL("100"))
	p := newTestPoller(NewClient(), cursor, sink, Settings{})

	p.Tick(context.Background())
	require.Equal(t, 2, cursor.Last())
	require.Equal(t, "二", sink.overlay[0].Text)

	board.AppendResponses("100", testutil.DatLine("名無し", "2024/01/01", "三", ""))
	p.Tick(context.Background())
	require.Len(t, sink.queued, 1)
	require.Equal(t, "三", sink.queued[0].Text)
}
