package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mmcdole/kiosk/internal/domain"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// mojibakeMarkers are the lead characters UTF-8 text picks up when it has
// been decoded as Windows-1252 somewhere upstream.
const mojibakeMarkers = "ÃÂâ"

// sanitizeSnapshot cleans display text in place. Identifiers are untouched.
func sanitizeSnapshot(snap *domain.CatalogSnapshot) {
	for i := range snap.Records {
		sanitizeRecord(&snap.Records[i])
	}
}

func sanitizeRecord(r *domain.CatalogRecord) {
	r.Title = cleanLine(r.Title)
	if r.Title == "" {
		r.Title = r.ID
	}
	r.Description = cleanBlock(r.Description)
	r.Version = cleanLine(r.Version)
	r.Size = cleanLine(r.Size)

	cats := r.Categories[:0]
	for _, c := range r.Categories {
		if c = cleanLine(c); c != "" {
			cats = append(cats, c)
		}
	}
	r.Categories = cats

	if r.DownloadLinks == nil {
		r.DownloadLinks = map[string][]string{}
	}
}

// cleanLine produces single-line display text.
func cleanLine(s string) string {
	s = cleanText(s)
	return strings.Join(strings.Fields(s), " ")
}

// cleanBlock keeps line breaks but trims trailing space on each line.
func cleanBlock(s string) string {
	s = cleanText(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func cleanText(s string) string {
	if s == "" {
		return s
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = fixMojibake(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u00A0':
			return ' '
		case unicode.IsControl(r), r == '\uFEFF', r == '\u200B':
			return -1
		default:
			return r
		}
	}, s)
	return norm.NFC.String(s)
}

// fixMojibake reverses a UTF-8 -> Windows-1252 misdecode when the result is
// valid UTF-8.
func fixMojibake(s string) string {
	if !strings.ContainsAny(s, mojibakeMarkers) {
		return s
	}
	raw, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) || raw == s {
		return s
	}
	return raw
}
