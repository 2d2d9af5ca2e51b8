package drive

import (
	"strconv"
	"strings"

	"drivegate/pkg/errs"
	"drivegate/pkg/paths"
	"drivegate/pkg/types"
)

// URL is a parsed drive address.
// Examples:
//   - 3f0a...c9 (raw key, path /)
//   - hyper://3f0a...c9/docs/readme.md
//   - hyper://notes.example+12/readme.md (name, historic version 12)
type URL struct {
	Host    string
	Key     types.DriveKey // zero until Host is a raw key or resolved
	Version *types.Version
	Path    string
}

// ParseURL parses a raw drive key or a hyper:// URL.
func ParseURL(identifier string) (*URL, error) {
	if identifier == "" {
		return nil, errs.InvalidURL("drive identifier cannot be empty")
	}

	if types.IsDriveKey(identifier) {
		key, _ := types.ParseDriveKey(identifier)
		return &URL{Host: key.String(), Key: key, Path: "/"}, nil
	}

	scheme, rest, ok := strings.Cut(identifier, "://")
	if !ok {
		return nil, errs.InvalidURL("invalid drive URL %q: must be a key or %s:// URL", identifier, types.Scheme)
	}
	if !strings.EqualFold(scheme, types.Scheme) {
		return nil, errs.InvalidURL("unsupported scheme %q", scheme)
	}

	rest, _, _ = strings.Cut(rest, "#")
	rest, _, _ = strings.Cut(rest, "?")
	host, p, _ := strings.Cut(rest, "/")

	u := &URL{Path: paths.Normalize(p)}

	if name, v, found := strings.Cut(host, "+"); found {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errs.InvalidURL("invalid version %q in %q", v, identifier)
		}
		version := types.Version(n)
		u.Version = &version
		host = name
	}

	if host == "" {
		return nil, errs.InvalidURL("drive URL %q has no host", identifier)
	}

	if key, err := types.ParseDriveKey(host); err == nil {
		u.Key = key
		host = key.String()
	} else {
		host = strings.ToLower(host)
	}
	u.Host = host

	return u, nil
}

// IsKey reports whether the host was a raw drive key.
func (u *URL) IsKey() bool {
	return u != nil && !u.Key.IsZero()
}

// String returns the canonical URL.
func (u *URL) String() string {
	if u == nil {
		return ""
	}
	host := u.Host
	if u.Version != nil {
		host += "+" + strconv.FormatUint(uint64(*u.Version), 10)
	}
	return types.Scheme + "://" + host + u.Path
}
