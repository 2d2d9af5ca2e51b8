package gateway

import (
	"time"

	"drivegate/pkg/types"
)

// Every option struct carries Timeout: zero uses the gateway default and a
// negative value disables the deadline.

type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
	EncodingHex    Encoding = "hex"
	EncodingBinary Encoding = "binary"
)

// DefaultEncoding is used when an option struct leaves Encoding empty.
const DefaultEncoding = EncodingUTF8

type CreateOptions struct {
	Title       string
	Description string
	Type        []string
	Author      string
	Links       map[string]string
	Timeout     time.Duration
}

type ForkOptions struct {
	Title       string
	Description string
	// Detached forks do not record their lineage.
	Detached bool
	Timeout  time.Duration
}

type InfoOptions struct {
	Version *types.Version
	Timeout time.Duration
}

// Settings lists the drive settings Configure may change. Nil fields are
// left untouched.
type Settings struct {
	Title        *string
	Description  *string
	Type         []string
	Author       *string
	Links        map[string]string
	WebRoot      *string
	FallbackPage *string
	// Extra sets arbitrary top level manifest fields.
	Extra map[string]any

	Seeding *bool
	// BytesAllowed overrides the quota allowance. Privileged only.
	BytesAllowed *int64
}

func (s Settings) touchesManifest() bool {
	return s.Title != nil || s.Description != nil || s.Type != nil || s.Author != nil ||
		s.Links != nil || s.WebRoot != nil || s.FallbackPage != nil || len(s.Extra) > 0
}

type ConfigureOptions struct {
	Timeout time.Duration
}

type StatOptions struct {
	Version *types.Version
	Timeout time.Duration
}

type ReadOptions struct {
	Encoding Encoding
	Version  *types.Version
	Timeout  time.Duration
}

type WriteOptions struct {
	// Encoding describes how the data passed to WriteFile is encoded.
	Encoding Encoding
	Metadata map[string]string
	Timeout  time.Duration
}

type ReaddirOptions struct {
	Recursive    bool
	IncludeStats bool
	Version      *types.Version
	Timeout      time.Duration
}

type RmdirOptions struct {
	Recursive bool
	Timeout   time.Duration
}

type MountOptions struct {
	// Version pins the mounted drive. A +version suffix on the mounted URL
	// has the same effect.
	Version *types.Version
	Timeout time.Duration
}

// OpOptions is used by operations without specific options.
type OpOptions struct {
	Timeout time.Duration
}

type DiffOptions struct {
	Prefix  string
	Timeout time.Duration
}

type MergeOptions struct {
	Prefix  string
	DryRun  bool
	Timeout time.Duration
}

type TransferOptions struct {
	// Overwrite replaces existing destination files; otherwise they are
	// skipped.
	Overwrite bool
	// IgnoreHidden skips entries whose name starts with a dot.
	IgnoreHidden bool
	DryRun       bool
	Timeout      time.Duration
}

// TransferStats summarises an import or export.
type TransferStats struct {
	Files       int   `json:"files"`
	Directories int   `json:"directories"`
	Skipped     int   `json:"skipped"`
	Bytes       int64 `json:"bytes"`
}
