package types

import (
	"time"
)

// Repository is a tracked source location. The reconciler keeps one built
// and running container (or compose stack) in sync with its latest revision.
type Repository struct {
	ID            string
	URL           string // Unique across all tracked repositories
	Name          string // "owner/repo", derived from URL on first pass
	LocalPath     string // Working-copy checkout path
	Status        RepoStatus
	LastErrorHash string // Fingerprint of most recently escalated failure ("" = none)
	ContainerName string // Logical container identity (normalized before use)
	Build         BuildConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastCheckedAt time.Time
}

// RepoStatus represents the lifecycle state of a tracked repository
type RepoStatus string

const (
	RepoStatusPending  RepoStatus = "pending"
	RepoStatusBuilding RepoStatus = "building"
	RepoStatusActive   RepoStatus = "active"
	RepoStatusError    RepoStatus = "error"
)

// BuildConfig carries the run configuration applied when starting a
// repository's container.
type BuildConfig struct {
	Ports   []*PortMapping
	Volumes []*VolumeMount
	Env     map[string]string
}

// PortMapping defines a host-to-container port binding
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp", defaults to tcp
}

// VolumeMount defines a host path mounted into the container
type VolumeMount struct {
	Source   string // Host path
	Target   string // Container path
	ReadOnly bool
}

// FailureRecord is one escalated failure for a repository. Records are
// retained as history and never deleted automatically.
type FailureRecord struct {
	ID           string
	RepositoryID string
	Fingerprint  string // Content hash over context + detail
	Context      string // Short failure context label ("sync error", ...)
	Detail       string // Full failure text, secrets redacted
	SessionID    string // Remote remediation session ("" = escalation not yet achieved)
	PRURL        string // Pull request produced by the session, once known
	FixStatus    FixStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FixStatus tracks the remediation state of a FailureRecord. The zero
// value means the failure is recorded locally but the remote escalation
// call has not succeeded yet.
type FixStatus string

const (
	FixStatusNone      FixStatus = ""
	FixStatusReported  FixStatus = "reported"
	FixStatusPRCreated FixStatus = "pr_created"
	FixStatusFailed    FixStatus = "failed"
	FixStatusResolved  FixStatus = "resolved"
)

// Terminal reports whether the record needs no further tracking
func (s FixStatus) Terminal() bool {
	return s == FixStatusFailed || s == FixStatusResolved
}

// Settings holds remote-API keys and source-control credentials. One
// process-wide record; the core reads it on each pass and never writes it
// outside the configuration API.
type Settings struct {
	RemediationAPIKey string
	GitUsername       string
	GitToken          string
	UpdatedAt         time.Time
}
