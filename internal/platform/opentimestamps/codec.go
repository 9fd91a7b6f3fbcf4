package opentimestamps

import (
	"bytes"
	"fmt"
)

type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) eof() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) readByte() (byte, error) {
	if r.eof() {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.pos < n {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// readVaruint decodes an unsigned LEB128 integer.
func (r *reader) readVaruint() (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if shift > 63 {
			return 0, fmt.Errorf("%w: varuint overflow", ErrMalformed)
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
}

func (r *reader) readVarbytes(max int) ([]byte, error) {
	n, err := r.readVaruint()
	if err != nil {
		return nil, err
	}
	if n > uint64(max) {
		return nil, fmt.Errorf("%w: varbytes length %d exceeds %d", ErrMalformed, n, max)
	}
	return r.readBytes(int(n))
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

func (w *writer) write(b []byte) {
	w.buf.Write(b)
}

func (w *writer) writeByte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) writeVaruint(v uint64) {
	if v == 0 {
		w.buf.WriteByte(0)
		return
	}
	for v != 0 {
		b := byte(v & 0x7f)
		if v > 0x7f {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		v >>= 7
	}
}

func (w *writer) writeVarbytes(b []byte) {
	w.writeVaruint(uint64(len(b)))
	w.buf.Write(b)
}
