package comment

import (
	"regexp"
	"strings"
	"unicode"
)

// ArtDetector classifies a comment body as ASCII/Shift_JIS art.
type ArtDetector func(text string) bool

// ScriptClassifier reports whether text contains the target language's script.
type ScriptClassifier func(text string) bool

const (
	minArtLines = 3
	artRatio    = 0.25
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// artRunes are glyphs that dominate text-drawn pictures and rarely appear in
// prose at any density.
const artRunes = "　＿￣／＼｜|（）´｀∀Дﾟω∩⊂⊃彡ミヽ丶∧∨〃⌒・：；:;'\"`^~-=_/\\()<>"

// DetectArt is the default ArtDetector. A body is art when it spans several
// lines and a large share of its visible runes are drawing glyphs.
func DetectArt(text string) bool {
	plain := Unescape(tagRe.ReplaceAllString(lineBreakRe.ReplaceAllString(text, "\n"), ""))
	lines := 0
	for _, line := range strings.Split(plain, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines < minArtLines {
		return false
	}
	var art, total int
	for _, r := range plain {
		if r == '\n' || r == ' ' || r == '\t' || r == '\r' {
			continue
		}
		total++
		if strings.ContainsRune(artRunes, r) || (r >= 0x2500 && r <= 0x257F) {
			art++
		}
	}
	if total == 0 {
		return false
	}
	return float64(art)/float64(total) >= artRatio
}

// MarkArt returns a copy of cs with IsArt set by detect.
func MarkArt(cs []Comment, detect ArtDetector) []Comment {
	if detect == nil {
		detect = DetectArt
	}
	out := make([]Comment, len(cs))
	for i, c := range cs {
		c.IsArt = detect(c.Text)
		out[i] = c
	}
	return out
}

// ContainsJapanese is the default ScriptClassifier for the "ja" target. It
// matches hiragana, katakana (including half-width forms) and kanji.
func ContainsJapanese(text string) bool {
	for _, r := range text {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return true
		}
	}
	return false
}
