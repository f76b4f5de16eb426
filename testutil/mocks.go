package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]string{{"id": userID, "login": login}},
		})
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockBoard serves a 2ch-compatible board named "board": dat files encoded in
// Shift_JIS and a subject.txt thread list.
type MockBoard struct {
	*httptest.Server

	mu       sync.Mutex
	threads  map[string][]string
	subjects []string
	status   int

	// DatRequests counts dat fetches.
	DatRequests atomic.Int32
}

// NewMockBoard starts a mock board that is closed when the test ends.
func NewMockBoard(t *testing.T) *MockBoard {
	t.Helper()
	m := &MockBoard{threads: make(map[string][]string)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// ThreadURL returns the read.cgi URL of a thread on this board.
func (m *MockBoard) ThreadURL(key string) string {
	return m.URL + "/test/read.cgi/board/" + key + "/"
}

// SetThread replaces the responses of a thread. Lines are dat lines in UTF-8.
func (m *MockBoard) SetThread(key string, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[key] = append([]string(nil), lines...)
}

// AppendResponses adds responses to the end of a thread.
func (m *MockBoard) AppendResponses(key string, lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[key] = append(m.threads[key], lines...)
}

// SetSubjects replaces subject.txt, one "<key>.dat<>title (n)" line each.
func (m *MockBoard) SetSubjects(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append([]string(nil), lines...)
}

// FailWith makes every request answer with status; 0 restores normal service.
func (m *MockBoard) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// DatLine formats one dat response. The first response carries the title.
func DatLine(name, date, body, title string) string {
	return name + "<><>" + date + "<>" + body + "<>" + title
}

func (m *MockBoard) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		w.WriteHeader(m.status)
		return
	}
	var lines []string
	switch {
	case r.URL.Path == "/board/subject.txt":
		lines = m.subjects
	case strings.HasPrefix(r.URL.Path, "/board/dat/") && strings.HasSuffix(r.URL.Path, ".dat"):
		m.DatRequests.Add(1)
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/board/dat/"), ".dat")
		var ok bool
		if lines, ok = m.threads[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body := strings.Join(lines, "\n")
	if body != "" {
		body += "\n"
	}
	encoded, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=Shift_JIS")
	_, _ = w.Write([]byte(encoded))
}
