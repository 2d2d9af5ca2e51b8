package rpc

import (
	"drivegate/pkg/audit"
	"drivegate/pkg/gateway"
	"drivegate/pkg/query"
	"drivegate/pkg/types"
)

// Request and reply messages of the Gateway service. They travel in CBOR.

type Empty struct{}

type CreateDriveRequest struct {
	Options gateway.CreateOptions
}

type ForkDriveRequest struct {
	URL     string
	Options gateway.ForkOptions
}

type URLRequest struct {
	URL     string
	Options gateway.OpOptions
}

type URLReply struct {
	URL string
}

type GetInfoRequest struct {
	URL     string
	Options gateway.InfoOptions
}

// InfoReply carries the manifest's extra fields separately, since they are
// not part of the manifest's struct encoding.
type InfoReply struct {
	Info          types.DriveInfo
	ManifestExtra map[string]any
}

type ConfigureRequest struct {
	URL      string
	Settings gateway.Settings
	Options  gateway.ConfigureOptions
}

type DiffRequest struct {
	Left    string
	Right   string
	Options gateway.DiffOptions
}

type MergeRequest struct {
	Source      string
	Destination string
	Options     gateway.MergeOptions
}

type ChangesReply struct {
	Changes []types.Change
}

type StatRequest struct {
	URL     string
	Options gateway.StatOptions
}

type StatReply struct {
	Stat types.Stat
}

type ReadFileRequest struct {
	URL     string
	Options gateway.ReadOptions
}

type ReadFileReply struct {
	Data []byte
}

type WriteFileRequest struct {
	URL     string
	Data    []byte
	Options gateway.WriteOptions
}

type MetadataRequest struct {
	URL      string
	Metadata map[string]string
	Keys     []string
	Options  gateway.OpOptions
}

type MoveRequest struct {
	Source      string
	Destination string
	Options     gateway.OpOptions
}

type ReaddirRequest struct {
	URL     string
	Options gateway.ReaddirOptions
}

type ReaddirReply struct {
	Entries []types.DirEntry
}

type RmdirRequest struct {
	URL     string
	Options gateway.RmdirOptions
}

type SymlinkRequest struct {
	Target   string
	Linkname string
	Options  gateway.OpOptions
}

type MountRequest struct {
	URL      string
	MountURL string
	Options  gateway.MountOptions
}

type QueryRequest struct {
	Query   query.Options
	Options gateway.OpOptions
}

type QueryReply struct {
	Matches []types.Match
}

type TransferRequest struct {
	Source      string
	Destination string
	Options     gateway.TransferOptions
}

type TransferReply struct {
	Stats gateway.TransferStats
}

type WatchRequest struct {
	URL     string
	Pattern string
}

type ListGrantsRequest struct {
	Origin string
}

type GrantsReply struct {
	Grants []types.Grant
}

type RevokeGrantRequest struct {
	Origin string
	Key    types.GrantKey
}

type ListAuditRequest struct {
	Filter audit.Filter
}

type AuditReply struct {
	Entries []types.AuditEntry
}
