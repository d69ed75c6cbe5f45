package relay

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// MaxCaptionRunes is the Telegram limit for photo captions, counted on the
// visible text after HTML entities are parsed.
const MaxCaptionRunes = 1024

const artistPrefix = "🎨 Artist: "

// Caption renders the message text sent alongside a post's media. Artist names
// are HTML-escaped because the Telegram sender uses the HTML parse mode. A long
// artist list is shortened before escaping so no entity is ever split.
func Caption(post Post, postURLBase string) string {
	artists := "unknown"
	if len(post.Artists) > 0 {
		artists = strings.Join(post.Artists, ", ")
	}
	var link string
	if base := strings.TrimRight(postURLBase, "/"); base != "" {
		link = fmt.Sprintf("\n🔗 %s/posts/%d", base, post.ID)
	}
	budget := MaxCaptionRunes - utf8.RuneCountInString(artistPrefix) - utf8.RuneCountInString(link)
	return artistPrefix + html.EscapeString(shorten(artists, budget)) + link
}

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
