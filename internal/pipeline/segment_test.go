package pipeline

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentsSplitsOnDelimiters(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Segment
	}{
		{
			name: "full width",
			text: "你好，今天天气不错。出去走走",
			want: []Segment{{Text: "你好"}, {Text: "今天天气不错"}, {Text: "出去走走", Last: true}},
		},
		{
			name: "ascii with trailing period",
			text: "Hello, world.",
			want: []Segment{{Text: "Hello"}, {Text: "world"}, {Text: "", Last: true}},
		},
		{
			name: "blank line",
			text: "first part\n\nsecond part",
			want: []Segment{{Text: "first part"}, {Text: "second part", Last: true}},
		},
		{
			name: "no delimiter",
			text: "just one",
			want: []Segment{{Text: "just one", Last: true}},
		},
		{
			name: "empty",
			text: "",
			want: []Segment{{Text: "", Last: true}},
		},
		{
			name: "only delimiters",
			text: "，。",
			want: []Segment{{Text: ""}, {Text: ""}, {Text: "", Last: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slices.Collect(Segments(tt.text)))
		})
	}
}

func TestSegmentsCountIsDelimitersPlusOne(t *testing.T) {
	texts := []string{"a,b,c", "a，b。c.", "x\n\ny\n\nz,", "。。。"}
	for _, text := range texts {
		n := len(segmentDelimiter.FindAllStringIndex(text, -1))
		got := slices.Collect(Segments(text))
		require.Len(t, got, n+1, text)
		for i, seg := range got {
			assert.Equal(t, i == len(got)-1, seg.Last, text)
		}
	}
}

func TestSegmentsIsSinglePass(t *testing.T) {
	seq := Segments("a,b")
	first := slices.Collect(seq)
	assert.Len(t, first, 2)
	assert.Empty(t, slices.Collect(seq))
}

func TestSegmentsStopsEarly(t *testing.T) {
	var got []string
	for seg := range Segments("a,b,c") {
		got = append(got, seg.Text)
		if seg.Text == "b" {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
