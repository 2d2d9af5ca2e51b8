// Package errs defines the gateway's error taxonomy.
//
// Every error the gateway itself raises is a coded PlatformError. Errors that
// come from collaborators (storage engine, network) are passed through
// untouched and report CodeUnknown. Only CodeTimeout is retryable.
package errs

import (
	"github.com/jmgilman/go/errors"
)

const (
	CodeInvalidURL         errors.ErrorCode = "INVALID_URL"
	CodeInvalidPath        errors.ErrorCode = "INVALID_PATH"
	CodeProtectedFile      errors.ErrorCode = "PROTECTED_FILE_NOT_WRITABLE"
	CodeArchiveNotWritable errors.ErrorCode = "ARCHIVE_NOT_WRITABLE"
	CodePermissions        errors.ErrorCode = "PERMISSIONS"
	CodeUserDenied         errors.ErrorCode = "USER_DENIED"
	CodeQuotaExceeded      errors.ErrorCode = "QUOTA_EXCEEDED"
	CodeTimeout                             = errors.CodeTimeout
)

// Codes lists every code the gateway raises.
var Codes = []errors.ErrorCode{
	CodeInvalidURL,
	CodeInvalidPath,
	CodeProtectedFile,
	CodeArchiveNotWritable,
	CodePermissions,
	CodeUserDenied,
	CodeQuotaExceeded,
	CodeTimeout,
}

func InvalidURL(format string, args ...any) error {
	return errors.Newf(CodeInvalidURL, format, args...)
}

func InvalidPath(format string, args ...any) error {
	return errors.Newf(CodeInvalidPath, format, args...)
}

func ProtectedFileNotWritable(path string) error {
	return errors.WithContext(
		errors.Newf(CodeProtectedFile, "protected file is not writable: %s", path),
		"path", path)
}

func ArchiveNotWritable(format string, args ...any) error {
	return errors.Newf(CodeArchiveNotWritable, format, args...)
}

func Permissions(format string, args ...any) error {
	return errors.Newf(CodePermissions, format, args...)
}

func UserDenied(format string, args ...any) error {
	return errors.Newf(CodeUserDenied, format, args...)
}

func QuotaExceeded(format string, args ...any) error {
	return errors.Newf(CodeQuotaExceeded, format, args...)
}

func Timeout(format string, args ...any) error {
	return errors.Newf(CodeTimeout, format, args...)
}

// New builds an error from a code received over the wire.
func New(code errors.ErrorCode, message string) error {
	return errors.New(code, message)
}

// Lookup returns the gateway code spelled s.
func Lookup(s string) (errors.ErrorCode, bool) {
	for _, c := range Codes {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Code returns the gateway code of err, or errors.CodeUnknown.
func Code(err error) errors.ErrorCode {
	return errors.GetCode(err)
}

// Is reports whether err carries the given gateway code.
func Is(err error, code errors.ErrorCode) bool {
	return err != nil && errors.GetCode(err) == code
}

// IsDenial reports whether err is a denial: retrying without new user or
// system input will fail the same way.
func IsDenial(err error) bool {
	switch Code(err) {
	case CodeUserDenied, CodePermissions, CodeProtectedFile:
		return true
	}
	return false
}

// IsRetryable reports whether the call may succeed if simply repeated.
func IsRetryable(err error) bool {
	return errors.IsRetryable(err)
}
