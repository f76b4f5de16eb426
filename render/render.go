// Package render turns comments into the HTML fragments the broadcast and
// overlay pages insert, and into the plain text handed to speech engines.
package render

import (
	"regexp"
	"strings"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
)

// Target is the surface a fragment is rendered for.
type Target int

const (
	TargetBroadcast Target = iota
	TargetOverlay
)

// Options are the display settings rendering depends on.
type Options struct {
	ShowIcon     bool
	ShowNumber   bool
	ShowName     bool
	ShowTime     bool
	NewLine      bool
	AAMode       bool
	Thumbnail    config.ThumbnailMode
	HideImageURL bool
}

// OptionsFrom extracts the rendering options from a config snapshot.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ShowIcon:     cfg.ShowIcon,
		ShowNumber:   cfg.ShowNumber,
		ShowName:     cfg.ShowName,
		ShowTime:     cfg.ShowTime,
		NewLine:      cfg.NewLine,
		AAMode:       cfg.AAMode.Enable,
		Thumbnail:    cfg.Thumbnail,
		HideImageURL: cfg.HideImgURL,
	}
}

func (o Options) thumbnails(target Target) bool {
	switch o.Thumbnail {
	case config.ThumbnailEverywhere:
		return true
	case config.ThumbnailOverlay:
		return target == TargetOverlay
	default:
		return false
	}
}

var anchorRe = regexp.MustCompile(`(?i)<a\s[^>]*>|<a>|</a\s*>`)

// StripAnchors removes anchor tags and keeps their text.
func StripAnchors(s string) string { return anchorRe.ReplaceAllString(s, "") }

// Comment renders c as a list item for target.
func Comment(c comment.Comment, opts Options, target Target) string {
	var b strings.Builder
	b.WriteString(`<li class="list-item">`)
	// the icon counts as a header line here, unlike in Translation
	header := writeHeader(&b, c, opts) || opts.ShowIcon

	if (opts.NewLine && header) || (opts.AAMode && c.IsArt) {
		b.WriteString("<br />")
	}

	thumbs := opts.thumbnails(target)
	body, images := linkify(StripAnchors(c.Text), thumbs && opts.HideImageURL)

	class := "res"
	if c.IsArt {
		class = "aares"
	}
	b.WriteString(`<span class="` + class + `">`)
	b.WriteString(body)
	b.WriteString(`</span>`)

	if thumbs {
		for _, img := range images {
			src := attr(normalizeImageURL(img))
			b.WriteString(`<div class="thumbnail"><img class="img" src="` + src + `" data-src="` + src + `" /></div>`)
		}
	}
	b.WriteString(`</div></li>`)
	return b.String()
}

// List renders every comment for target, one list item per line.
func List(cs []comment.Comment, opts Options, target Target) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, Comment(c, opts, target))
	}
	return strings.Join(parts, "\n")
}

// Translation renders a translated comment with the original below a rule.
// translated must already be escaped.
func Translation(c comment.Comment, translated string, opts Options) string {
	var b strings.Builder
	b.WriteString(`<li class="list-item">`)
	header := writeHeader(&b, c, opts)
	if opts.NewLine && header {
		b.WriteString("<br />")
	}
	b.WriteString(`<span class="res">` + translated + `</span>`)
	b.WriteString(`<hr class="res-separator" />`)
	b.WriteString(`<span class="res-org">` + c.Text + `</span>`)
	b.WriteString(`</div></li>`)
	return b.String()
}

// TranslationError is shown in place of a translation that failed.
const TranslationError = `<li class="list-item"><div class="content"><span class="res">翻訳でエラー</span></div></li>`

// writeHeader writes the icon block and opens the content div, then the
// enabled header fields. It reports whether any header field was written.
func writeHeader(b *strings.Builder, c comment.Comment, opts Options) bool {
	if opts.ShowIcon {
		icon := c.ImageURL
		if icon == "" {
			icon = comment.DefaultIcon(c.Source)
		}
		b.WriteString(`<span class="icon-block"><img class="icon" src="` + attr(icon) + `" /></span>`)
	}
	b.WriteString(`<div class="content">`)
	header := false
	if opts.ShowNumber && c.HasNumber() {
		b.WriteString(`<span class="resNumber">` + c.Number + `</span>`)
		header = true
	}
	if opts.ShowName && c.Name != "" {
		b.WriteString(`<span class="name">` + c.Name + `</span>`)
		header = true
	}
	if opts.ShowTime && c.Date != "" {
		b.WriteString(`<span class="date">` + c.Date + `</span>`)
		header = true
	}
	return header
}

// attr escapes a value for a double-quoted attribute without double-escaping
// entities that are already present.
func attr(s string) string {
	return comment.Escape(comment.Unescape(s))
}
