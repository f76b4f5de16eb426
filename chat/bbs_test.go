package chat

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/comment"
)

// growingThread serves rows 1..n and grows by two rows after each fetch.
type growingThread struct {
	mu sync.Mutex
	n  int
}

func (g *growingThread) FetchResponses(_ context.Context, _ string, after int) ([]comment.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []comment.Comment
	for i := after + 1; i <= g.n; i++ {
		c := comment.New(comment.SourceBBS, "名無し", "res "+strconv.Itoa(i))
		c.Number = strconv.Itoa(i)
		if i == 1 {
			c.ThreadTitle = "test thread"
		}
		out = append(out, c)
	}
	g.n += 2
	return out, nil
}

func (g *growingThread) FetchThreadList(context.Context, string) ([]board.ThreadSummary, error) {
	return nil, nil
}

func TestBBS_FirstFetchGoesToOverlayThenNewResponsesQueue(t *testing.T) {
	cursor := board.NewCursor("http://example.test/test/read.cgi/board/1/")
	a := NewBBS(&growingThread{n: 3}, cursor, func() board.Settings {
		return board.Settings{Interval: 5 * time.Millisecond}
	}, func() bool { return true })
	rec := &recorder{}
	a.Subscribe(rec.handlers())

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return len(rec.Comments()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	a.Stop()

	require.Equal(t, []string{"3"}, numbers(rec.Backlog()))
	require.Equal(t, []string{"4", "5"}, numbers(rec.Comments()[:2]))
	require.True(t, rec.Saw(CategoryStatus, StatusWaiting))
	require.True(t, rec.Saw(CategoryTitle, "test thread"))
	require.True(t, rec.Saw(CategoryStatus, "ok res=3"))
	require.Equal(t, StatusEnd, rec.Last().Message)
	require.Equal(t, board.StateStopped, a.Poller().State())
}

func TestBBS_StartRequiresThreadURL(t *testing.T) {
	a := NewBBS(&growingThread{}, board.NewCursor(""), func() board.Settings {
		return board.Settings{Interval: time.Second}
	}, func() bool { return true })
	require.Error(t, a.Start(context.Background()))
}

func TestBBS_ThreadMovedReportsURL(t *testing.T) {
	a := NewBBS(&growingThread{}, board.NewCursor("u"), nil, nil)
	rec := &recorder{}
	a.Subscribe(rec.handlers())

	a.ThreadMoved("http://example.test/test/read.cgi/board/2/")
	require.True(t, rec.Saw(CategoryThread, "http://example.test/test/read.cgi/board/2/"))
}
