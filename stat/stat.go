// Package stat encodes the stat(2)-shaped fields vfs.VfsStat fills out
// from a vfs.Node_t for syscall-dispatch callers.
package stat

import "unsafe"

/// Stat_t mirrors a file's stat information, laid out as a fixed-size
/// struct so Bytes can hand its raw representation straight to a
/// user-space stat buffer without a field-by-field marshal step.
type Stat_t struct {
	_dev    uint
	_ino    uint
	_mode   uint
	_size   uint
	_rdev   uint
	_uid    uint
	_blocks uint
	_m_sec  uint
	_m_nsec uint
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) {
	st._dev = v
}

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint) {
	st._ino = v
}

/// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint) {
	st._mode = v
}

/// Wsize records the file size.
func (st *Stat_t) Wsize(v uint) {
	st._size = v
}

/// Wrdev stores the rdev field.
func (st *Stat_t) Wrdev(v uint) {
	st._rdev = v
}

/// Wmtime records a node's last-modified time as a (seconds,
/// nanoseconds) pair, the form vfs.Node_t.Mtime (a time.Time) is
/// split into before VfsStat copies it in.
func (st *Stat_t) Wmtime(sec, nsec uint) {
	st._m_sec = sec
	st._m_nsec = nsec
}

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint {
	return st._mode
}

/// Size returns the stored size.
func (st *Stat_t) Size() uint {
	return st._size
}

/// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint {
	return st._rdev
}

/// Rino returns the stored inode number.
func (st *Stat_t) Rino() uint {
	return st._ino
}

/// Mtime returns the stored (seconds, nanoseconds) modification time.
func (st *Stat_t) Mtime() (uint, uint) {
	return st._m_sec, st._m_nsec
}

/// Bytes exposes the raw bytes of the structure.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
