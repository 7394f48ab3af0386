package pipeline

import (
	"iter"
	"regexp"
	"strings"
)

// segmentDelimiter matches ASCII and full-width commas and periods, and blank lines.
var segmentDelimiter = regexp.MustCompile(`[,，.。]|\r?\n\r?\n`)

// Segment is one speakable slice of a reply. The final segment of a reply
// always has Last set, even when its Text is empty.
type Segment struct {
	Text string
	Last bool
}

// segmenter walks a reply one delimiter at a time. It is single-pass:
// once exhausted it keeps reporting done.
type segmenter struct {
	rest string
	done bool
}

func newSegmenter(text string) *segmenter {
	return &segmenter{rest: text}
}

// Next returns the next segment, or false once the final segment was returned.
func (s *segmenter) Next() (Segment, bool) {
	if s.done {
		return Segment{}, false
	}
	loc := segmentDelimiter.FindStringIndex(s.rest)
	if loc == nil {
		s.done = true
		text := strings.TrimSpace(s.rest)
		s.rest = ""
		return Segment{Text: text, Last: true}, true
	}
	text := strings.TrimSpace(s.rest[:loc[0]])
	s.rest = s.rest[loc[1]:]
	return Segment{Text: text}, true
}

// Segments lazily splits text on delimiters. A text with N delimiters
// yields N+1 segments.
func Segments(text string) iter.Seq[Segment] {
	s := newSegmenter(text)
	return func(yield func(Segment) bool) {
		for {
			seg, ok := s.Next()
			if !ok || !yield(seg) {
				return
			}
		}
	}
}
