// Package twitchapi contains the small part of the Twitch Helix API the
// Twitch chat source needs: resolving a channel and checking whether it is
// live, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// helixMaxRetries bounds attempts per call for 429/5xx responses.
const helixMaxRetries = 3

const helixBase = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls used for live status.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// Stream is a live broadcast as reported by /helix/streams.
type Stream struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// StatusError is a non-2xx Helix response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.Status, e.Body)
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live streams for a channel login. An empty result
// means the channel is offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", url.Values{"user_login": {login}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// get performs a Helix GET, retrying 429 and 5xx responses and refreshing the
// app token once on 401.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	refreshed := false
	maxAttempts := helixMaxRetries
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+path+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err
		}

		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp)
		lastErr = &StatusError{Status: resp.StatusCode, Body: string(b)}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			hc.AppTokenSource.Invalidate()
			refreshed = true
			if attempt == maxAttempts {
				maxAttempts++
			}
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if err := waitRetry(ctx, resp.Header.Get("Retry-After"), attempt); err != nil {
				return err
			}
			continue
		default:
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("helix: retries exhausted")
	}
	return lastErr
}

func waitRetry(ctx context.Context, retryAfter string, attempt int) error {
	d := time.Duration(attempt) * 200 * time.Millisecond
	if s, err := strconv.Atoi(retryAfter); err == nil && s >= 0 {
		d = time.Duration(s) * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
