package render

import (
	"regexp"
	"strings"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
)

// SpeechOptions controls how a comment is read aloud.
type SpeechOptions struct {
	ReplaceNewline bool
	ReadNumber     bool
	SourceLabels   map[comment.Source]string
}

// SpeechOptionsFrom extracts the speech options from a config snapshot.
func SpeechOptionsFrom(cfg *config.Config) SpeechOptions {
	labels := make(map[comment.Source]string, len(cfg.SpeechSourceLabels))
	for k, v := range cfg.SpeechSourceLabels {
		labels[comment.Source(k)] = v
	}
	return SpeechOptions{
		ReplaceNewline: cfg.SpeechReplaceNewline,
		ReadNumber:     cfg.SpeechReadResNumber,
		SourceLabels:   labels,
	}
}

var (
	brRe  = regexp.MustCompile(`(?i)<br\s*/?>`)
	imgRe = regexp.MustCompile(`(?i)<img[^>]*>`)
)

// SpeechText converts a comment body to the plain text a speech engine reads.
func SpeechText(c comment.Comment, opts SpeechOptions) string {
	text := brRe.ReplaceAllString(c.Text, "\n")
	text = imgRe.ReplaceAllString(text, "")
	text = StripAnchors(text)
	text = comment.Unescape(text)
	if opts.ReplaceNewline {
		text = strings.ReplaceAll(text, "\r\n", " ")
		text = strings.ReplaceAll(text, "\n", " ")
	}
	if label := opts.SourceLabels[c.Source]; label != "" {
		text = label + "\n" + text
	}
	if opts.ReadNumber && c.HasNumber() {
		text = "レス" + strings.TrimSpace(c.Number) + "\n" + text
	}
	return text
}

// TranslationSource strips markup, anchors and URLs from an escaped body,
// leaving the escaped text worth translating.
func TranslationSource(text string) string {
	text = brRe.ReplaceAllString(text, " ")
	text = imgRe.ReplaceAllString(text, "")
	text = StripAnchors(text)
	text = urlRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
