package pipeline

import (
	"context"
	"strconv"
	"sync"

	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
)

// recordingSinks captures everything sent to the presentation targets.
type recordingSinks struct {
	mu           sync.Mutex
	broadcasts   []Message
	overlays     []string
	translations []string
}

func (r *recordingSinks) Broadcast(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, m)
}

func (r *recordingSinks) ShowOverlay(_ *config.Config, markup string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlays = append(r.overlays, markup)
}

func (r *recordingSinks) ShowTranslation(_ *config.Config, markup string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translations = append(r.translations, markup)
}

func (r *recordingSinks) sinks() Sinks {
	return Sinks{Broadcast: r, Overlay: r, Translation: r}
}

func (r *recordingSinks) Broadcasts() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.broadcasts...)
}

func (r *recordingSinks) Overlays() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.overlays...)
}

func (r *recordingSinks) Translations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.translations...)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
	panic bool
}

func (f *fakeSpeaker) Speak(_ context.Context, text string) error {
	if f.panic {
		panic("speaker exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSpeaker) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeSound struct {
	mu    sync.Mutex
	plays int
}

func (f *fakeSound) Available() bool { return true }

func (f *fakeSound) PlayRandom(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeSound) Plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

type fakeTranslator struct {
	mu    sync.Mutex
	out   string
	err   error
	calls []string
	// onCall runs after each call is recorded.
	onCall func()
}

func (f *fakeTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	out, err, hook := f.out, f.err, f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, err
}

func (f *fakeTranslator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeThread serves numbered responses per thread URL; add appends more.
type fakeThread struct {
	mu      sync.Mutex
	threads map[string][]comment.Comment
	fail    error
}

func newFakeThread() *fakeThread {
	return &fakeThread{threads: make(map[string][]comment.Comment)}
}

func (f *fakeThread) add(threadURL string, texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.threads[threadURL]
	for _, text := range texts {
		c := comment.New(comment.SourceBBS, "名無し", text)
		c.Number = strconv.Itoa(len(rows) + 1)
		if len(rows) == 0 {
			c.ThreadTitle = "title of " + threadURL
		}
		rows = append(rows, c)
	}
	f.threads[threadURL] = rows
}

func (f *fakeThread) FetchResponses(_ context.Context, threadURL string, after int) ([]comment.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var out []comment.Comment
	for _, c := range f.threads[threadURL] {
		if n, _ := c.NumberValue(); n > after {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeThread) FetchThreadList(context.Context, string) ([]board.ThreadSummary, error) {
	return nil, nil
}

func bbsComment(n int, text string) comment.Comment {
	c := comment.New(comment.SourceBBS, "名無し", text)
	c.Number = strconv.Itoa(n)
	return c
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ThreadURL = "http://example.test/test/read.cgi/board/1/"
	return cfg
}
