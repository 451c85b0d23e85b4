// Package ipc implements inter-process communication: pipes, shared
// memory segments, and message queues. Built on circbuf.Circbuf_t
// (circbuf/circbuf.go) for the pipe ring buffer.
package ipc

import "github.com/m512i/ZurichOS-sub001/defs"

/// Bytebuf_t is a minimal fdops.Userio_i backed by a plain byte slice,
/// standing in for a real user-space copy in this hosted build (there
/// is no userva to dereference; the caller's own slice is the
/// transfer's other end).
type Bytebuf_t struct {
	buf   []byte
	total int
}

/// NewBytebuf wraps buf for use as a Userio_i source or destination.
func NewBytebuf(buf []byte) *Bytebuf_t {
	return &Bytebuf_t{buf: buf, total: len(buf)}
}

func (b *Bytebuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(b.buf, src)
	b.buf = b.buf[n:]
	return n, 0
}

func (b *Bytebuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, b.buf)
	b.buf = b.buf[n:]
	return n, 0
}

func (b *Bytebuf_t) Remain() int {
	return len(b.buf)
}

func (b *Bytebuf_t) Totalsz() int {
	return b.total
}
