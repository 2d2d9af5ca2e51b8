package types

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Scheme is the URL scheme of drive addresses.
const Scheme = "hyper"

// ManifestPath is the drive manifest. Only the privileged actor may write it
// directly; everyone else goes through Configure.
const ManifestPath = "/index.json"

// DriveKeySize is the length in bytes of a drive public key.
const DriveKeySize = 32

type DriveKey [DriveKeySize]byte

type Version uint64

// ParseDriveKey decodes a 64 character hex key.
func ParseDriveKey(s string) (DriveKey, error) {
	var key DriveKey
	if len(s) != DriveKeySize*2 {
		return key, fmt.Errorf("drive key must be %d hex characters, got %d", DriveKeySize*2, len(s))
	}
	if _, err := hex.Decode(key[:], []byte(strings.ToLower(s))); err != nil {
		return key, fmt.Errorf("invalid drive key: %w", err)
	}
	return key, nil
}

// IsDriveKey reports whether s is a raw hex drive key.
func IsDriveKey(s string) bool {
	_, err := ParseDriveKey(s)
	return err == nil
}

func (k DriveKey) String() string {
	return hex.EncodeToString(k[:])
}

// URL returns the canonical drive URL with a trailing slash.
func (k DriveKey) URL() string {
	return Scheme + "://" + k.String() + "/"
}

func (k DriveKey) IsZero() bool {
	return k == DriveKey{}
}

// Actor is the calling context of a gateway operation.
type Actor struct {
	Origin     string
	Privileged bool
	// Unverified marks an origin the caller asserted without proof. It
	// never earns the self-origin write allowance.
	Unverified bool
}

// HostOrigin is the origin used for the privileged host application.
const HostOrigin = "drivegate://host"

// Host returns the privileged actor.
func Host() Actor {
	return Actor{Origin: HostOrigin, Privileged: true}
}

// ActionKind is the kind of action a permission grant covers.
type ActionKind string

const (
	ActionWrite  ActionKind = "write"
	ActionCreate ActionKind = "create"
	ActionDelete ActionKind = "delete"
)

// GrantKey identifies the resource of a permission grant.
type GrantKey struct {
	Action ActionKind
	Drive  DriveKey
}

func (g GrantKey) String() string {
	return string(g.Action) + ":" + g.Drive.String()
}

// Grant is a cached user decision.
type Grant struct {
	Origin    string
	Key       GrantKey
	Allowed   bool
	GrantedAt time.Time
}

// Manifest is the content of the drive's index.json.
type Manifest struct {
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Type         []string          `json:"type,omitempty"`
	Author       string            `json:"author,omitempty"`
	Links        map[string]string `json:"links,omitempty"`
	WebRoot      string            `json:"web_root,omitempty"`
	FallbackPage string            `json:"fallback_page,omitempty"`
	Extra        map[string]any    `json:"-"`
}

// DriveInfo describes a drive. Fields after Description are only populated
// for the privileged actor.
type DriveInfo struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Writable    bool      `json:"writable"`
	Version     Version   `json:"version"`
	Peers       int       `json:"peers"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        []string  `json:"type,omitempty"`
	Author      string    `json:"author,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Manifest    *Manifest `json:"manifest,omitempty"`
	Seeding     bool      `json:"seeding,omitempty"`
	ForkOf      string    `json:"fork_of,omitempty"`
}

type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
	EntrySymlink   EntryType = "symlink"
	EntryMount     EntryType = "mount"
)

// MountInfo points at the drive mounted at a path.
type MountInfo struct {
	Key     DriveKey `json:"key"`
	Version Version  `json:"version,omitempty"`
}

type Stat struct {
	Type     EntryType         `json:"type"`
	Size     int64             `json:"size"`
	Mtime    time.Time         `json:"mtime"`
	Ctime    time.Time         `json:"ctime"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Linkname string            `json:"linkname,omitempty"`
	Mount    *MountInfo        `json:"mount,omitempty"`
}

func (s Stat) IsDirectory() bool { return s.Type == EntryDirectory || s.Type == EntryMount }
func (s Stat) IsFile() bool      { return s.Type == EntryFile }

type DirEntry struct {
	Name string `json:"name"`
	Stat *Stat  `json:"stat,omitempty"`
}

// Match is one query result.
type Match struct {
	Drive DriveKey `json:"drive"`
	URL   string   `json:"url"`
	Path  string   `json:"path"`
	Stat  Stat     `json:"stat"`
}

type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeModify ChangeKind = "mod"
	ChangeDelete ChangeKind = "del"
)

type Change struct {
	Change ChangeKind `json:"change"`
	Type   EntryType  `json:"type"`
	Path   string     `json:"path"`
}

// Event is emitted by Watch when a path in a drive changes.
type Event struct {
	Drive   DriveKey
	Path    string
	Version Version
}

type NetworkEventKind string

const (
	NetworkPeerAdd    NetworkEventKind = "peer-add"
	NetworkPeerRemove NetworkEventKind = "peer-remove"
	NetworkUpdate     NetworkEventKind = "update"
)

type NetworkEvent struct {
	Drive DriveKey
	Kind  NetworkEventKind
	Peers int
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEntry records one mediated operation attempt.
type AuditEntry struct {
	ID        string        `cbor:"id"`
	Time      time.Time     `cbor:"time"`
	Origin    string        `cbor:"origin"`
	Action    string        `cbor:"action"`
	Target    string        `cbor:"target"`
	Size      *int64        `cbor:"size,omitempty"`
	Outcome   Outcome       `cbor:"outcome"`
	ErrorCode string        `cbor:"error_code,omitempty"`
	Duration  time.Duration `cbor:"duration"`
}
