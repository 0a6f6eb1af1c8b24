package thread

import (
	"regexp"
	"strings"
)

var imageMarker = regexp.MustCompile(`!\[image\]\(([^)\s]+)\)`)

// Content is message text split into its inline image reference and
// caption. A message embeds at most one marker of the form
// ![image](url); everything else is caption text.
type Content struct {
	ImageURL string
	Caption  string
}

func (c Content) HasImage() bool { return c.ImageURL != "" }

// ParseContent separates the image marker from the caption so
// downstream truncation never counts the marker as text.
func ParseContent(raw string) Content {
	loc := imageMarker.FindStringSubmatchIndex(raw)
	if loc == nil {
		return Content{Caption: strings.TrimSpace(raw)}
	}
	url := raw[loc[2]:loc[3]]
	caption := raw[:loc[0]] + raw[loc[1]:]
	return Content{
		ImageURL: url,
		Caption:  strings.TrimSpace(caption),
	}
}

// Preview renders the short human-readable form used in notification
// bodies: the caption truncated on a rune boundary, or a placeholder
// when the message is image-only.
func Preview(raw string, limit int) string {
	c := ParseContent(raw)
	text := c.Caption
	if text == "" && c.HasImage() {
		text = "sent an image"
	}
	if limit <= 0 || len([]rune(text)) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
