package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDuration(t *testing.T) {
	cases := []struct {
		text string
		want int
		ok   bool
	}{
		{"Coding session. Duration: 240", 240, true},
		{"worked 3 hours straight", 180, true},
		{"45 minutes of meetings", 45, true},
		{"1.5 hrs on calls", 90, true},
		{"Duration: 30 after 5 hours", 30, true},
		{"no time here", 0, false},
	}
	for _, c := range cases {
		got, ok := ExtractDuration(c.text)
		assert.Equal(t, c.ok, ok, c.text)
		assert.Equal(t, c.want, got, c.text)
	}
}
