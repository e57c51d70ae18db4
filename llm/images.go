package llm

import (
	"regexp"
	"strings"
)

// ImagePlaceholder replaces image data that is not sent back to the model
const ImagePlaceholder = "generated image cannot be put here because of size"

var imageDataURLRe = regexp.MustCompile(`!\[(img-[^\]]+)\]\((data:image/[^)]+)\)`)

// ParseSegments splits a stored message into text and inline image segments.
// With keepImages false every image becomes a text placeholder. An empty
// message yields a single "." segment since some vendors reject empty content.
func ParseSegments(text string, keepImages bool) []Segment {
	if text == "" {
		return []Segment{{Type: SegmentText, Text: "."}}
	}

	var segments []Segment
	start := 0
	for _, m := range imageDataURLRe.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > start {
			segments = append(segments, Segment{Type: SegmentText, Text: text[start:m[0]]})
		}
		start = m[1]
		if keepImages {
			segments = append(segments, Segment{Type: SegmentImage, ImageURL: text[m[4]:m[5]]})
		} else {
			segments = append(segments, Segment{Type: SegmentText, Text: ImagePlaceholder})
		}
	}
	if start < len(text) {
		segments = append(segments, Segment{Type: SegmentText, Text: text[start:]})
	}
	return segments
}

// HasImages reports whether text embeds at least one inline image
func HasImages(text string) bool {
	return imageDataURLRe.MatchString(text)
}

// NewMessage builds a message from stored text. Plain text stays in Content;
// text with inline images is split into segments.
func NewMessage(role Role, text string, keepImages bool) Message {
	if !HasImages(text) {
		if strings.TrimSpace(text) == "" {
			text = "."
		}
		return Message{Role: role, Content: text}
	}
	return Message{Role: role, Segments: ParseSegments(text, keepImages)}
}
