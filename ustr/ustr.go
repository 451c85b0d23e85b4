// Package ustr provides Ustr, the byte-slice path/name type every VFS
// path component and fd.Cwd_t's working directory is carried in:
// bpath.Canonicalize walks a Ustr component by component, and
// hashtable.Hashtable_t accepts a Ustr directly as a lookup key (see
// hashUstr) so a directory's finddir table doesn't need to round-trip
// through a Go string on every lookup.
package ustr

/// Ustr is an immutable (by convention; nothing stops a caller from
/// mutating the backing array) byte-slice path or path component.
type Ustr []uint8

/// Isdot reports whether us is the single component ".", the case
/// bpath.Canonicalize skips without touching its component stack.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

/// Isdotdot reports whether us is the component "..", the case
/// bpath.Canonicalize pops its component stack for.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

/// Eq reports whether us and s hold identical bytes, used by
/// hashtable's bucket-scan equality check when the key is a Ustr
/// (vfs node names) rather than a string or int id.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

/// MkUstr returns an empty Ustr.
func MkUstr() Ustr {
	return Ustr{}
}

/// MkUstrDot returns a Ustr holding ".".
func MkUstrDot() Ustr {
	return Ustr(".")
}

/// MkUstrRoot returns a Ustr holding "/", the path fd.MkRootCwd seeds
/// every process's initial working directory with.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

/// DotDot is a reusable Ustr holding "..", handed out so callers that
/// only need to compare against it don't allocate one each time.
var DotDot = Ustr{'.', '.'}

/// MkUstrSlice truncates buf at its first NUL byte, the shape a path
/// argument copied in from a user-space syscall argument arrives in
/// (NUL-terminated, not length-prefixed).
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

/// Extend appends a '/' separator and p to us, returning a new Ustr;
/// fd.Cwd_t.Fullpath uses this to join a relative path argument onto
/// the process's current working directory before handing it to
/// bpath.Canonicalize.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

/// ExtendStr is Extend for a plain Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

/// IsAbsolute reports whether us begins with '/'; Fullpath checks this
/// before deciding whether to join onto the working directory at all.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}

/// IndexByte returns the index of the first occurrence of b in us, or
/// -1 if absent.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

/// String renders us as a Go string, the conversion vfs.Canonical
/// performs once bpath.Canonicalize has finished resolving "." and
/// ".." components.
func (us Ustr) String() string {
	return string(us)
}
