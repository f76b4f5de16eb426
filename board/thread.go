package board

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind is the board software a thread URL belongs to.
type Kind int

const (
	// Kind2ch covers 2ch-compatible boards (/test/read.cgi/<board>/<key>/).
	Kind2ch Kind = iota
	// KindShitaraba covers shitaraba (/bbs/read.cgi/<category>/<board>/<key>/).
	KindShitaraba
)

func (k Kind) String() string {
	if k == KindShitaraba {
		return "shitaraba"
	}
	return "2ch"
}

// Thread identifies one thread on a board.
type Thread struct {
	Kind     Kind
	Scheme   string
	Host     string
	Category string
	Board    string
	Key      string
}

// ParseThreadURL recognizes read.cgi URLs of both board kinds. Trailing
// range specifiers such as "l50" are ignored.
func ParseThreadURL(raw string) (Thread, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Thread{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	t := Thread{Scheme: u.Scheme, Host: u.Host}
	if t.Scheme == "" {
		t.Scheme = "https"
	}
	switch {
	case len(parts) >= 5 && parts[0] == "bbs" && parts[1] == "read.cgi":
		t.Kind = KindShitaraba
		t.Category, t.Board, t.Key = parts[2], parts[3], parts[4]
	case len(parts) >= 4 && parts[0] == "test" && parts[1] == "read.cgi":
		t.Kind = Kind2ch
		t.Board, t.Key = parts[2], parts[3]
	default:
		return Thread{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	if t.Board == "" || t.Key == "" {
		return Thread{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	return t, nil
}

func (t Thread) origin() string { return t.Scheme + "://" + t.Host }

func (t Thread) boardPath() string {
	if t.Kind == KindShitaraba {
		return "/" + t.Category + "/" + t.Board + "/"
	}
	return "/" + t.Board + "/"
}

// URL is the canonical read.cgi URL.
func (t Thread) URL() string {
	if t.Kind == KindShitaraba {
		return t.origin() + "/bbs/read.cgi/" + t.Category + "/" + t.Board + "/" + t.Key + "/"
	}
	return t.origin() + "/test/read.cgi/" + t.Board + "/" + t.Key + "/"
}

// BoardURL is the board's top page.
func (t Thread) BoardURL() string { return t.origin() + t.boardPath() }

// SubjectURL lists the board's threads.
func (t Thread) SubjectURL() string { return t.BoardURL() + "subject.txt" }

// DataURL is where responses after the given number are read from.
func (t Thread) DataURL(after int) string {
	if t.Kind == KindShitaraba {
		u := t.origin() + "/bbs/rawmode.cgi/" + t.Category + "/" + t.Board + "/" + t.Key + "/"
		if after > 0 {
			u += fmt.Sprintf("%d-", after+1)
		}
		return u
	}
	return t.BoardURL() + "dat/" + t.Key + ".dat"
}

// WithKey returns another thread on the same board.
func (t Thread) WithKey(key string) Thread {
	t.Key = key
	return t
}

// SameAs reports whether both values name the same thread.
func (t Thread) SameAs(o Thread) bool {
	return t.Kind == o.Kind && strings.EqualFold(t.Host, o.Host) &&
		t.Category == o.Category && t.Board == o.Board && t.Key == o.Key
}

// SameThread compares two thread URLs, falling back to string equality for
// URLs that do not parse.
func SameThread(a, b string) bool {
	ta, errA := ParseThreadURL(a)
	tb, errB := ParseThreadURL(b)
	if errA != nil || errB != nil {
		return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
	}
	return ta.SameAs(tb)
}
