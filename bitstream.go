package streamdec

import "fmt"

// DefaultMaxBitstreamBytes bounds the accumulated, not yet consumed input.
const DefaultMaxBitstreamBytes = 100 * 1024 * 1024

// Bitstream accumulates encoded bytes until the codec consumes them.
// Consumed bytes are dropped and never handed to the codec again.
type Bitstream struct {
	buf []byte
	max int

	appended uint64
	consumed uint64
}

// NewBitstream creates an accumulator capped at max bytes (0 = default cap).
func NewBitstream(max int) *Bitstream {
	if max <= 0 {
		max = DefaultMaxBitstreamBytes
	}
	return &Bitstream{max: max}
}

// Append copies p to the end of the buffer. Exceeding the cap leaves the
// buffer untouched and returns ErrBitstreamOverflow.
func (b *Bitstream) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	need := len(b.buf) + len(p)
	if need > b.max {
		return fmt.Errorf("%w: %d buffered + %d new > %d", ErrBitstreamOverflow, len(b.buf), len(p), b.max)
	}
	if need > cap(b.buf) {
		newCap := 2 * cap(b.buf)
		if newCap < need {
			newCap = need
		}
		if newCap > b.max {
			newCap = b.max
		}
		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}
	b.buf = append(b.buf, p...)
	b.appended += uint64(len(p))
	return nil
}

// Consume drops the first n bytes, keeping the remainder in order.
func (b *Bitstream) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.buf) {
		n = len(b.buf)
	}
	remaining := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
	b.consumed += uint64(n)
}

// Bytes returns the unconsumed data. The slice is valid until the next
// Append, Consume or Reset.
func (b *Bitstream) Bytes() []byte { return b.buf }

// Len returns the number of unconsumed bytes.
func (b *Bitstream) Len() int { return len(b.buf) }

// Cap returns the configured maximum.
func (b *Bitstream) Cap() int { return b.max }

// Reset discards all unconsumed data, counting it as consumed.
func (b *Bitstream) Reset() {
	b.consumed += uint64(len(b.buf))
	b.buf = b.buf[:0]
}

// TotalAppended returns the number of bytes ever appended.
func (b *Bitstream) TotalAppended() uint64 { return b.appended }

// TotalConsumed returns the number of bytes ever consumed or reset.
func (b *Bitstream) TotalConsumed() uint64 { return b.consumed }
