// Package comment defines the record every source adapter produces and the
// queues comments wait in before the schedulers present or translate them.
package comment

import (
	"html"
	"strconv"
	"strings"
)

// Source identifies where a comment came from.
type Source string

const (
	SourceBBS      Source = "bbs"
	SourceTwitch   Source = "twitch"
	SourceYouTube  Source = "youtube"
	SourceNiconico Source = "niconico"
	SourceJpnkn    Source = "jpnkn"
	SourceSystem   Source = "system"
)

// Sources lists every known source in display order.
var Sources = []Source{SourceBBS, SourceTwitch, SourceYouTube, SourceNiconico, SourceJpnkn, SourceSystem}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultName is used when a platform delivers a comment without an author.
const DefaultName = "名無しさん"

// SystemName is the author shown on comments the application itself emits.
const SystemName = "commentcastより"

// Comment is one normalized message. Name and Text are HTML-escaped by the
// adapter that produced them; Text may contain the inline markup adapters add
// themselves (emote images, line breaks).
type Comment struct {
	Number      string `json:"number,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Date        string `json:"date,omitempty"`
	ID          string `json:"id,omitempty"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl"`
	ThreadTitle string `json:"threadTitle,omitempty"`
	Source      Source `json:"source"`
	IsArt       bool   `json:"isArt,omitempty"`
}

// HasNumber reports whether the comment carries a platform sequence number.
// BBS rows without one are error-shaped results.
func (c Comment) HasNumber() bool { return strings.TrimSpace(c.Number) != "" }

// NumberValue parses Number as an integer.
func (c Comment) NumberValue() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.Number))
	if err != nil {
		return 0, false
	}
	return n, true
}

// DefaultIcon returns the bundled icon path for a source.
func DefaultIcon(src Source) string {
	return "./img/" + string(src) + ".svg"
}

// New builds a comment from untrusted plain text, escaping name and body.
func New(src Source, name, text string) Comment {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return Comment{
		Name:     Escape(name),
		Text:     Escape(text),
		ImageURL: DefaultIcon(src),
		Source:   src,
	}
}

// System builds a comment authored by the application. text is trusted markup.
func System(text string) Comment {
	return Comment{
		Name:     SystemName,
		Text:     text,
		ImageURL: DefaultIcon(SourceSystem),
		Source:   SourceSystem,
	}
}

// Escape HTML-escapes untrusted text.
func Escape(s string) string { return html.EscapeString(s) }

// Unescape reverses Escape and also decodes any other entity.
func Unescape(s string) string { return html.UnescapeString(s) }
