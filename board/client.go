// Package board reads threads from 2ch-compatible boards and shitaraba, and
// polls a thread for new responses.
package board

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/telemetry"
)

// ThreadSummary is one line of a board's thread list.
type ThreadSummary struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	ResponseCount int    `json:"resCount"`
}

// Fetcher reads responses and thread lists. Client is the production
// implementation; tests substitute their own.
type Fetcher interface {
	// FetchResponses returns the responses numbered above after, or the whole
	// thread when after is 0.
	FetchResponses(ctx context.Context, threadURL string, after int) ([]comment.Comment, error)
	// FetchThreadList returns the threads on the board threadURL belongs to.
	FetchThreadList(ctx context.Context, threadURL string) ([]ThreadSummary, error)
}

// Client fetches over HTTP and decodes the board's legacy encodings.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
}

// NewClient returns a Client with a bounded timeout.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		UserAgent:  "Monazilla/1.00 commentcast",
	}
}

// FetchResponses implements Fetcher.
func (c *Client) FetchResponses(ctx context.Context, threadURL string, after int) ([]comment.Comment, error) {
	t, err := ParseThreadURL(threadURL)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "board.fetch_responses", telemetry.ThreadURLAttr(threadURL))
	defer span.End()

	body, err := c.get(ctx, t.DataURL(after), encodingFor(t.Kind))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	var out []comment.Comment
	if t.Kind == KindShitaraba {
		out = parseRawmode(body)
	} else {
		out = parseDat(body)
	}
	if after > 0 {
		out = numberedAfter(out, after)
	}
	telemetry.SetSpanSuccess(span)
	return out, nil
}

// FetchThreadList implements Fetcher.
func (c *Client) FetchThreadList(ctx context.Context, threadURL string) ([]ThreadSummary, error) {
	t, err := ParseThreadURL(threadURL)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "board.fetch_thread_list", telemetry.ThreadURLAttr(threadURL))
	defer span.End()

	body, err := c.get(ctx, t.SubjectURL(), encodingFor(t.Kind))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	return parseSubject(body, t), nil
}

func encodingFor(k Kind) encoding.Encoding {
	if k == KindShitaraba {
		return japanese.EUCJP
	}
	return japanese.ShiftJIS
}

func (c *Client) get(ctx context.Context, u string, enc encoding.Encoding) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: u, StatusCode: resp.StatusCode}
	}
	// shitaraba signals dropped or missing threads through a header
	if msg := resp.Header.Get("ERROR"); msg != "" {
		return "", fmt.Errorf("fetch %s: board error %q", u, msg)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u, err)
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "utf-8") {
		return string(raw), nil
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", u, err)
	}
	return string(decoded), nil
}

var nameTagRe = regexp.MustCompile(`</?b>`)

func newResponse(number int, name, mail, dateID, body string) comment.Comment {
	date, id := dateID, ""
	if i := strings.Index(dateID, " ID:"); i >= 0 {
		date, id = dateID[:i], dateID[i+len(" ID:"):]
	}
	name = strings.TrimSpace(nameTagRe.ReplaceAllString(name, ""))
	if name == "" {
		name = comment.DefaultName
	}
	return comment.Comment{
		Number:   strconv.Itoa(number),
		Name:     name,
		Email:    mail,
		Date:     strings.TrimSpace(date),
		ID:       strings.TrimSpace(id),
		Text:     strings.TrimSpace(body),
		ImageURL: comment.DefaultIcon(comment.SourceBBS),
		Source:   comment.SourceBBS,
	}
}

// parseDat reads a 2ch dat file: name<>mail<>date ID<>body<>title, one
// response per line, numbered by position.
func parseDat(body string) []comment.Comment {
	var out []comment.Comment
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		n++
		f := strings.Split(line, "<>")
		if len(f) < 4 {
			continue
		}
		r := newResponse(n, f[0], f[1], f[2], f[3])
		if len(f) > 4 {
			r.ThreadTitle = strings.TrimSpace(f[4])
		}
		out = append(out, r)
	}
	return out
}

// parseRawmode reads shitaraba rawmode output:
// number<>name<>mail<>date<>body<>title<>id.
func parseRawmode(body string) []comment.Comment {
	var out []comment.Comment
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		f := strings.Split(sc.Text(), "<>")
		if len(f) < 5 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(f[0]))
		if err != nil {
			continue
		}
		r := newResponse(n, f[1], f[2], f[3], f[4])
		if len(f) > 5 {
			r.ThreadTitle = strings.TrimSpace(f[5])
		}
		if len(f) > 6 && r.ID == "" {
			r.ID = strings.TrimSpace(f[6])
		}
		out = append(out, r)
	}
	return out
}

var subjectCountRe = regexp.MustCompile(`^(.*?)\s*\((\d+)\)\s*$`)

// parseSubject reads subject.txt. 2ch lines are "<key>.dat<>title (n)",
// shitaraba lines are "<key>.cgi,title(n)" with the newest thread repeated at
// the end.
func parseSubject(body string, t Thread) []ThreadSummary {
	var out []ThreadSummary
	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var file, rest string
		var ok bool
		if t.Kind == KindShitaraba {
			file, rest, ok = strings.Cut(line, ",")
		} else {
			file, rest, ok = strings.Cut(line, "<>")
		}
		if !ok {
			continue
		}
		key := strings.TrimSuffix(strings.TrimSuffix(file, ".dat"), ".cgi")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		s := ThreadSummary{URL: t.WithKey(key).URL(), Title: rest}
		if m := subjectCountRe.FindStringSubmatch(rest); m != nil {
			s.Title = m[1]
			s.ResponseCount, _ = strconv.Atoi(m[2])
		}
		out = append(out, s)
	}
	return out
}

func numberedAfter(rs []comment.Comment, after int) []comment.Comment {
	out := rs[:0]
	for _, r := range rs {
		if n, ok := r.NumberValue(); ok && n > after {
			out = append(out, r)
		}
	}
	return out
}

// ErrorRow converts a fetch failure into the numberless response shape
// displays understand.
func ErrorRow(err error) comment.Comment {
	return comment.Comment{
		Name:     "error",
		Text:     comment.Escape(err.Error()),
		ImageURL: comment.DefaultIcon(comment.SourceSystem),
		Source:   comment.SourceBBS,
	}
}
