package render

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	// BBS bodies commonly drop the leading "h" to dodge auto-linking.
	urlRe   = regexp.MustCompile(`h?ttps?://[-_.!~*'()a-zA-Z0-9;/?:@&=+$,%#]+`)
	imageRe = regexp.MustCompile(`^h?ttps?://[-_.!~*'()a-zA-Z0-9;/?:@&=+$,%#]+\.(?:jpg|jpeg|png|gif|webp)`)
)

// linkify wraps URLs found in text nodes with a clickable span and collects
// the image URLs among them. Markup such as emote images passes through
// untouched, so attribute values are never rewritten. When hideImages is set
// the span of a URL that is exactly an image is dropped from the body.
func linkify(body string, hideImages bool) (string, []string) {
	var (
		b      strings.Builder
		images []string
	)
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !errors.Is(z.Err(), io.EOF) {
				// unparseable tail, keep it verbatim
				b.Write(z.Raw())
			}
			break
		}
		raw := string(z.Raw())
		if tt != html.TextToken {
			b.WriteString(raw)
			continue
		}
		last := 0
		for _, loc := range urlRe.FindAllStringIndex(raw, -1) {
			u := raw[loc[0]:loc[1]]
			b.WriteString(raw[last:loc[0]])
			last = loc[1]
			img := imageRe.FindString(u)
			if img != "" {
				images = append(images, img)
			}
			if hideImages && img == u {
				continue
			}
			b.WriteString(`<span class="url" data-href="` + attr(normalizeImageURL(u)) + `">` + u + `</span>`)
		}
		b.WriteString(raw[last:])
	}
	return b.String(), images
}

// ImageURLs returns the image URLs that appear in the text of body.
func ImageURLs(body string) []string {
	_, images := linkify(StripAnchors(body), false)
	return images
}

// normalizeImageURL restores a dropped leading "h".
func normalizeImageURL(u string) string {
	if strings.HasPrefix(u, "ttp") {
		return "h" + u
	}
	return u
}
