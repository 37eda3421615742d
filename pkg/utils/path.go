package utils

import (
	"bytes"
	"strings"
)

// IsAbsolutePath reports whether p is rooted. Paths relative to a working
// directory or a dirfd cannot be attributed to a file and are dropped.
func IsAbsolutePath(p string) bool {
	return strings.HasPrefix(p, "/")
}

// CString returns the content of b up to the first NUL byte, or all of b
// when it is not terminated.
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// PutCString copies s into dst, truncating it so that a terminating NUL
// always fits, and zeroes the remainder.
func PutCString(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}
