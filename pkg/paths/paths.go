// Package paths judges drive path legality and protection.
package paths

import (
	"net/url"
	"path"
	"strings"

	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

// Normalize percent-decodes input and makes it absolute. References that
// carry their own scheme are returned decoded but otherwise untouched.
func Normalize(input string) string {
	decoded, err := url.PathUnescape(input)
	if err != nil {
		decoded = input
	}
	if strings.Contains(decoded, "://") {
		return decoded
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded
}

// AssertValid rejects paths containing characters that no drive may store.
func AssertValid(p string) error {
	if p == "" {
		return errs.InvalidPath("path cannot be empty")
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == 0:
			return errs.InvalidPath("path contains NUL byte: %q", p)
		case c < 0x20 || c == 0x7f:
			return errs.InvalidPath("path contains control character %#x: %q", c, p)
		case c == '\\':
			return errs.InvalidPath("path contains backslash: %q", p)
		}
	}
	for _, segment := range strings.Split(p, "/") {
		if isDriveLetter(segment) {
			return errs.InvalidPath("path contains drive letter segment %q", segment)
		}
	}
	return nil
}

// AssertValidFilePath is AssertValid for operations that create a file.
func AssertValidFilePath(p string) error {
	if err := AssertValid(p); err != nil {
		return err
	}
	if strings.HasSuffix(p, "/") {
		return errs.InvalidPath("file path cannot end with a slash: %q", p)
	}
	return nil
}

// AssertUnprotected denies non-privileged writes to the drive manifest.
func AssertUnprotected(p string, actor types.Actor) error {
	if actor.Privileged {
		return nil
	}
	if IsProtected(p) {
		return errs.ProtectedFileNotWritable(p)
	}
	return nil
}

// IsProtected reports whether p names the drive manifest.
func IsProtected(p string) bool {
	return Clean(p) == types.ManifestPath
}

// Clean returns the lexical shortest form of p, always absolute.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Join joins segments onto a drive path.
func Join(base string, elem ...string) string {
	return Clean(path.Join(append([]string{base}, elem...)...))
}

// IsWithin reports whether p equals dir or lies underneath it.
func IsWithin(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

func isDriveLetter(segment string) bool {
	if len(segment) != 2 || segment[1] != ':' {
		return false
	}
	c := segment[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
