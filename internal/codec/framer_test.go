package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramerKeepsPartialFrames(t *testing.T) {
	f := NewFramer('\n', 16)

	frames, overflow := f.Push([]byte("MISC1:1\nMIS"))
	assert.Equal(t, [][]byte{[]byte("MISC1:1")}, frames)
	assert.Empty(t, overflow)

	frames, _ = f.Push([]byte("C2:0\n"))
	assert.Equal(t, [][]byte{[]byte("MISC2:0")}, frames)
}

func TestFramerDiscardsOverlongFrames(t *testing.T) {
	f := NewFramer('\n', 8)

	frames, overflow := f.Push([]byte(strings.Repeat("x", 12)))
	assert.Empty(t, frames)
	assert.Len(t, overflow, 1)
	assert.Len(t, overflow[0], 8)

	// rest of the garbage up to the delimiter is dropped, scanning resumes
	frames, overflow = f.Push([]byte("yyyy\nOK:1\n"))
	assert.Equal(t, [][]byte{[]byte("OK:1")}, frames)
	assert.Empty(t, overflow)
}

func TestFramerOverlongCompleteFrame(t *testing.T) {
	f := NewFramer(';', 4)

	frames, overflow := f.Push([]byte("ab;abcdef;cd;"))
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cd")}, frames)
	assert.Equal(t, [][]byte{[]byte("abcd")}, overflow)
}
