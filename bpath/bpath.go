// Package bpath canonicalizes slash-separated paths the way the VFS
// lookup path expects: no ".", no "..", no repeated or trailing
// slashes, always rooted at "/".
package bpath

import "github.com/m512i/ZurichOS-sub001/ustr"

/// Canonicalize resolves "." and ".." components and collapses
/// repeated separators, returning an absolute path. p must already be
/// absolute (start with '/'); callers join a relative path onto the
/// current working directory before calling this (see fd.Cwd_t.Fullpath).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := split(p)
	var stack []ustr.Ustr
	for _, part := range parts {
		switch {
		case len(part) == 0:
			continue
		case part.Isdot():
			continue
		case part.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	ret := ustr.Ustr{'/'}
	for i, part := range stack {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, part...)
	}
	return ret
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

/// Dirname returns the path with its final component removed.
func Dirname(p ustr.Ustr) ustr.Ustr {
	parts := split(Canonicalize(p))
	if len(parts) <= 1 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{'/'}
	for i, part := range parts[:len(parts)-1] {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, part...)
	}
	return ret
}

/// Basename returns the final component of p.
func Basename(p ustr.Ustr) ustr.Ustr {
	parts := split(Canonicalize(p))
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return parts[len(parts)-1]
}
