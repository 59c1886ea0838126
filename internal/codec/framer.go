package codec

import "bytes"

// DefaultMaxFrame bounds a single frame. Longer runs without a delimiter are
// discarded.
const DefaultMaxFrame = 256

// Framer splits a byte stream on a delimiter. Partial frames are kept
// between calls.
type Framer struct {
	delim      byte
	max        int
	buf        []byte
	discarding bool
}

func NewFramer(delim byte, max int) *Framer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Framer{delim: delim, max: max}
}

// Push appends p and returns every complete frame without its delimiter.
// Overflowing frames are returned separately (truncated to the limit) and
// scanning resumes after the next delimiter.
func (f *Framer) Push(p []byte) (frames [][]byte, overflow [][]byte) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, f.delim)
		if i < 0 {
			if !f.discarding {
				f.buf = append(f.buf, p...)
				if len(f.buf) > f.max {
					overflow = append(overflow, f.take()[:f.max])
					f.discarding = true
				}
			}
			return frames, overflow
		}

		chunk := p[:i]
		p = p[i+1:]

		if f.discarding {
			f.discarding = false
			continue
		}

		f.buf = append(f.buf, chunk...)
		frame := f.take()
		if len(frame) > f.max {
			overflow = append(overflow, frame[:f.max])
			continue
		}
		frames = append(frames, frame)
	}
	return frames, overflow
}

// Reset drops any buffered partial frame.
func (f *Framer) Reset() {
	f.buf = nil
	f.discarding = false
}

func (f *Framer) take() []byte {
	frame := f.buf
	f.buf = nil
	return frame
}
