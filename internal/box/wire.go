package box

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxWireBlock caps the length prefix accepted when reading a block, so a
// corrupt length cannot trigger a huge allocation.
const maxWireBlock = 64 << 20

// wireWriter writes big-endian fields and remembers the first error.
type wireWriter struct {
	w   io.Writer
	err error
	buf [8]byte
	n   int64
}

func newWireWriter(w io.Writer) *wireWriter {
	return &wireWriter{w: w}
}

func (w *wireWriter) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	w.err = err
}

func (w *wireWriter) u8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

func (w *wireWriter) u16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *wireWriter) u32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *wireWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

func (w *wireWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *wireWriter) block(p []byte) {
	w.u32(uint32(len(p)))
	w.write(p)
}

// wireReader reads big-endian fields and remembers the first error.
type wireReader struct {
	r   io.Reader
	err error
	buf [8]byte
}

func newWireReader(r io.Reader) *wireReader {
	return &wireReader{r: r}
}

func (r *wireReader) read(p []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
	}
}

func (r *wireReader) u8() uint8 {
	r.read(r.buf[:1])
	if r.err != nil {
		return 0
	}
	return r.buf[0]
}

func (r *wireReader) u16() uint16 {
	r.read(r.buf[:2])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(r.buf[:2])
}

func (r *wireReader) u32() uint32 {
	r.read(r.buf[:4])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(r.buf[:4])
}

func (r *wireReader) u64() uint64 {
	r.read(r.buf[:8])
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(r.buf[:8])
}

func (r *wireReader) i64() int64 { return int64(r.u64()) }

func (r *wireReader) block() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if n > maxWireBlock {
		r.err = fmt.Errorf("block length %d exceeds limit", n)
		return nil
	}
	if n == 0 {
		return nil
	}
	p := make([]byte, n)
	r.read(p)
	if r.err != nil {
		return nil
	}
	return p
}
