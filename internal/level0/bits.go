package level0

import "fmt"

// reader gives bounds checked access to a frame payload. The first out
// of range read latches an error and every later read returns zero, so
// decode paths can run straight through and check err once at the end.
// Truncated or garbage frames then fail cleanly instead of panicking.
type reader struct {
	b   []byte
	err error
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) len() int { return len(r.b) }

// at returns the byte at index i, or zero once an error is latched.
func (r *reader) at(i int) byte {
	if r.err != nil {
		return 0
	}
	if i < 0 || i >= len(r.b) {
		r.err = fmt.Errorf("%w: offset %d in %d byte frame", ErrTruncatedFrame, i, len(r.b))
		return 0
	}
	return r.b[i]
}

// slice returns n bytes starting at index i.
func (r *reader) slice(i, n int) []byte {
	if r.err != nil {
		return nil
	}
	if i < 0 || n < 0 || i+n > len(r.b) {
		r.err = fmt.Errorf("%w: slice [%d:%d] in %d byte frame", ErrTruncatedFrame, i, i+n, len(r.b))
		return nil
	}
	return r.b[i : i+n]
}

// bits extracts n bits as an integer starting at absolute bit offset
// start, most significant bit first.
func (r *reader) bits(start, n int) int {
	v := 0
	for i := start; i < start+n; i++ {
		v <<= 1
		if r.at(i/8)&(0x80>>uint(i%8)) != 0 {
			v |= 1
		}
	}
	return v
}
