// Package translate provides the translation backends the translation
// scheduler calls.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/option"
	translatev2 "google.golang.org/api/translate/v2"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/telemetry"
)

// Translator translates plain text into targetLang.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// ErrEmptyResult is returned when the backend answers without any text.
var ErrEmptyResult = errors.New("translation returned no text")

// New picks the Cloud Translation API when an API key is configured and the
// keyless web endpoint otherwise.
func New(ctx context.Context, cfg *config.Config) (Translator, error) {
	if key := strings.TrimSpace(cfg.Translate.APIKey); key != "" {
		return NewCloudTranslator(ctx, key)
	}
	return NewWebTranslator(), nil
}

// WebTranslator calls the keyless web translation endpoint.
type WebTranslator struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewWebTranslator returns a WebTranslator for the public endpoint.
func NewWebTranslator() *WebTranslator {
	return &WebTranslator{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    "https://translate.googleapis.com",
	}
}

// Translate implements Translator.
func (w *WebTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "translate.web")
	defer span.End()

	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", targetLang)
	q.Set("dt", "t")
	q.Set("q", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(w.BaseURL, "/")+"/translate_a/single?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	hc := w.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("translate request: status %d", resp.StatusCode)
		telemetry.RecordError(span, err)
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translation: %w", err)
	}
	out, err := parseWebResponse(body)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanSuccess(span)
	return out, nil
}

// parseWebResponse joins the translated segments of a response shaped like
// [[["translated","source",...],...],...].
func parseWebResponse(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("decode translation: %w", err)
	}
	if len(root) == 0 {
		return "", ErrEmptyResult
	}
	var segments [][]any
	if err := json.Unmarshal(root[0], &segments); err != nil {
		return "", fmt.Errorf("decode translation segments: %w", err)
	}
	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResult
	}
	return b.String(), nil
}

// CloudTranslator uses the Cloud Translation v2 API.
type CloudTranslator struct {
	svc *translatev2.Service
}

// NewCloudTranslator builds a client authenticated with apiKey.
func NewCloudTranslator(ctx context.Context, apiKey string, opts ...option.ClientOption) (*CloudTranslator, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := translatev2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create translate service: %w", err)
	}
	return &CloudTranslator{svc: svc}, nil
}

// Translate implements Translator.
func (c *CloudTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "translate.cloud")
	defer span.End()

	resp, err := c.svc.Translations.List([]string{text}, targetLang).Format("text").Context(ctx).Do()
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("cloud translate: %w", err)
	}
	if len(resp.Translations) == 0 || resp.Translations[0].TranslatedText == "" {
		return "", ErrEmptyResult
	}
	telemetry.SetSpanSuccess(span)
	return resp.Translations[0].TranslatedText, nil
}
