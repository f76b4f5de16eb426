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
	"strings"
	"sync"
	"time"

	"github.com/onnwee/commentcast/telemetry"
)

const (
	tokenURL = "https://id.twitch.tv/oauth2/token"
	// a cached token closer than this to expiry is refetched
	expiryBuffer = time.Minute
)

var errMissingCredentials = errors.New("missing client id/secret for twitch app token")

// TokenSource hands out the app access token used by the Helix live check.
// Chat is read anonymously and never needs one.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu      sync.Mutex
	cached  string
	validTo time.Time
}

// appToken is the client credentials grant response.
type appToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Get returns the cached token, fetching a new one when it is missing or
// about to expire. Concurrent callers share a single fetch.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if tok, ok := ts.usableLocked(time.Now()); ok {
		return tok, nil
	}
	grant, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}
	ts.cached = grant.AccessToken
	ts.validTo = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return ts.cached, nil
}

// SetToken seeds the cache with a token obtained elsewhere.
func (ts *TokenSource) SetToken(token string, validTo time.Time) {
	ts.mu.Lock()
	ts.cached, ts.validTo = token, validTo
	ts.mu.Unlock()
}

// Invalidate forgets the cached token; Helix calls it after a 401.
func (ts *TokenSource) Invalidate() { ts.SetToken("", time.Time{}) }

func (ts *TokenSource) usableLocked(now time.Time) (string, bool) {
	if ts.cached == "" || ts.validTo.Sub(now) <= expiryBuffer {
		return "", false
	}
	return ts.cached, true
}

func (ts *TokenSource) fetch(ctx context.Context) (appToken, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "twitch.app_token", telemetry.SourceAttr("twitch"))
	defer span.End()

	grant, err := ts.request(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return appToken{}, err
	}
	telemetry.SetSpanSuccess(span)
	return grant, nil
}

func (ts *TokenSource) request(ctx context.Context) (appToken, error) {
	var grant appToken
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return grant, errMissingCredentials
	}
	form := url.Values{
		"client_id":     {ts.ClientID},
		"client_secret": {ts.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return grant, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return grant, fmt.Errorf("twitch token request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.String("component", "twitchapi"), slog.Any("err", err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return grant, fmt.Errorf("twitch token request failed: %s: %s", resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return grant, fmt.Errorf("decode twitch token: %w", err)
	}
	if grant.AccessToken == "" {
		return grant, errors.New("empty access_token in twitch response")
	}
	return grant, nil
}
