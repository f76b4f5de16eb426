package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *HelixClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	rewrite := &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL}}
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: rewrite}
	if token != "" {
		ts.SetToken(token, time.Now().Add(time.Hour))
	}
	return &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: rewrite}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]interface{}{"data": []map[string]string{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
		{
			name:        "bad request is not retried",
			login:       "testuser",
			response:    map[string]interface{}{"error": "Bad Request"},
			statusCode:  http.StatusBadRequest,
			wantErr:     true,
			errContains: "status 400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			}, "test-token")

			userID, err := client.GetUserID(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetStreams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.URL.Query().Get("user_login") {
		case "livechannel":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{
					"id":           "s-1",
					"user_login":   "livechannel",
					"title":        "Live Now",
					"viewer_count": 42,
					"started_at":   "2024-10-15T14:30:00Z",
				}},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
		}
	}, "test-token")

	streams, err := client.GetStreams(context.Background(), "livechannel")
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].Title != "Live Now" || streams[0].ViewerCount != 42 {
		t.Fatalf("unexpected stream %+v", streams[0])
	}
	if want := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC); !streams[0].StartedAt.Equal(want) {
		t.Fatalf("started_at=%v want %v", streams[0].StartedAt, want)
	}

	offline, err := client.GetStreams(context.Background(), "sleepy")
	if err != nil {
		t.Fatalf("GetStreams() offline error = %v", err)
	}
	if len(offline) != 0 {
		t.Fatalf("expected offline channel, got %d streams", len(offline))
	}

	if _, err := client.GetStreams(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty login")
	}
}

func TestHelixClient_429Retry(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"title": "ok"}}})
	}, "test-token")

	streams, err := client.GetStreams(context.Background(), "chan")
	if err != nil {
		t.Fatalf("GetStreams() unexpected error after 429 retry = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream after retry, got %d", len(streams))
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts (429 + success), got %d", attempts.Load())
	}
}

func TestHelixClient_5xxExhausted(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusBadGateway)
	}, "test-token")

	_, err := client.GetStreams(context.Background(), "chan")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if int(attempts.Load()) != helixMaxRetries {
		t.Fatalf("expected %d attempts, got %d", helixMaxRetries, attempts.Load())
	}
}

func TestHelixClient_401RefreshRetry(t *testing.T) {
	var userAttempts, tokenRequests atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		case "/helix/users":
			if userAttempts.Add(1) == 1 {
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Errorf("first attempt auth = %q, want stale token", got)
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Errorf("second attempt auth = %q, want refreshed token", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "u-123"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, "stale-token")

	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-123" {
		t.Fatalf("GetUserID() = %q, want u-123", userID)
	}
	if tokenRequests.Load() != 1 {
		t.Fatalf("expected exactly one token refresh request, got %d", tokenRequests.Load())
	}
	if userAttempts.Load() != 2 {
		t.Fatalf("expected two /helix/users attempts, got %d", userAttempts.Load())
	}
}

func TestHelixClient_401OnFinalAttempt(t *testing.T) {
	var userAttempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "fresh-token", "expires_in": 3600})
		case "/helix/users":
			n := int(userAttempts.Add(1))
			switch {
			case n < helixMaxRetries:
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusInternalServerError)
			case n == helixMaxRetries:
				w.WriteHeader(http.StatusUnauthorized)
			default:
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "u-456"}}})
			}
		}
	}, "stale-token")

	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-456" {
		t.Fatalf("GetUserID() = %q, want u-456", userID)
	}
	if int(userAttempts.Load()) != helixMaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", helixMaxRetries+1, userAttempts.Load())
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
