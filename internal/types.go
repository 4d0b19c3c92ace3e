package internal

import (
	"time"

	"github.com/google/uuid"
)

// LinkKind identifies what a raw user input refers to
type LinkKind int

const (
	KindMagnet LinkKind = iota
	KindHoster
	KindMegaFolder
	KindMegaFile
	KindDirect
	KindTorrentContainer
	KindNZBContainer
)

// String returns the string representation of LinkKind
func (k LinkKind) String() string {
	switch k {
	case KindMagnet:
		return "magnet"
	case KindHoster:
		return "hoster"
	case KindMegaFolder:
		return "mega_folder"
	case KindMegaFile:
		return "mega_file"
	case KindDirect:
		return "direct"
	case KindTorrentContainer:
		return "torrent_container"
	case KindNZBContainer:
		return "nzb_container"
	default:
		return "unknown"
	}
}

// IsContainer reports whether the link points at a .torrent or .nzb file
func (k LinkKind) IsContainer() bool {
	return k == KindTorrentContainer || k == KindNZBContainer
}

// IsMega reports whether the link is handled by the MEGA resolver
func (k LinkKind) IsMega() bool {
	return k == KindMegaFolder || k == KindMegaFile
}

// Link is a classified user input. It is a value type and never mutated after classification.
type Link struct {
	Raw      string   `json:"raw"`
	Kind     LinkKind `json:"kind"`
	Host     string   `json:"host,omitempty"`
	InfoHash string   `json:"info_hash,omitempty"` // lowercase hex, magnets and .torrent files only
	Path     string   `json:"path,omitempty"`      // local container path
}

// IsRemote reports whether a container link is an http(s) URL rather than a local file
func (l Link) IsRemote() bool {
	return l.Path == ""
}

// ProviderName identifies a debrid service
type ProviderName string

const (
	RealDebrid ProviderName = "realdebrid"
	AllDebrid  ProviderName = "alldebrid"
	Premiumize ProviderName = "premiumize"
	TorBox     ProviderName = "torbox"
)

// DefaultPriority is the tie-break order used by the provider selector
var DefaultPriority = []ProviderName{RealDebrid, AllDebrid, Premiumize, TorBox}

// DisplayName returns the human readable service name
func (p ProviderName) DisplayName() string {
	switch p {
	case RealDebrid:
		return "Real-Debrid"
	case AllDebrid:
		return "AllDebrid"
	case Premiumize:
		return "Premiumize.me"
	case TorBox:
		return "TorBox"
	default:
		return string(p)
	}
}

// ParseProviderName accepts canonical names and a few common spellings
func ParseProviderName(s string) (ProviderName, bool) {
	switch s {
	case "realdebrid", "real-debrid", "rd":
		return RealDebrid, true
	case "alldebrid", "all-debrid", "ad":
		return AllDebrid, true
	case "premiumize", "premiumize.me", "pm":
		return Premiumize, true
	case "torbox", "tb":
		return TorBox, true
	default:
		return "", false
	}
}

// CacheStatus is the answer of a provider cache lookup
type CacheStatus int

const (
	CacheUnknown CacheStatus = iota
	CacheCached
	CacheNotCached
)

// String returns the string representation of CacheStatus
func (c CacheStatus) String() string {
	switch c {
	case CacheCached:
		return "cached"
	case CacheNotCached:
		return "not_cached"
	default:
		return "unknown"
	}
}

// JobStatus is the provider-independent state of a RemoteJob.
// The numeric order is the only allowed direction of travel.
type JobStatus int

const (
	JobSubmitted JobStatus = iota
	JobQueued
	JobDownloadingRemote
	JobReady
	JobError
	JobExpired
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobQueued:
		return "queued"
	case JobDownloadingRemote:
		return "downloading_remote"
	case JobReady:
		return "ready"
	case JobError:
		return "error"
	case JobExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for ready, error and expired
func (s JobStatus) IsTerminal() bool {
	return s == JobReady || s == JobError || s == JobExpired
}

// JobStage tracks the optional secondary stage that follows a primary ready
type JobStage int

const (
	StagePrimary JobStage = iota
	StageAwaitingCloudDownload
)

// String returns the string representation of JobStage
func (s JobStage) String() string {
	if s == StageAwaitingCloudDownload {
		return "awaiting_cloud_download"
	}
	return "primary"
}

// JobKind tells an adapter which remote API family a job lives in
type JobKind string

const (
	JobKindTorrent  JobKind = "torrent"
	JobKindUsenet   JobKind = "usenet"
	JobKindWebDL    JobKind = "webdl"
	JobKindUnlock   JobKind = "unlock"
	JobKindTransfer JobKind = "transfer"
)

// RemoteJob is a provider-side asynchronous task. It is owned by the poller
// driving it and is abandoned once terminal.
type RemoteJob struct {
	ID                  string       `json:"id"`
	RemoteID            string       `json:"remote_id"`
	Provider            ProviderName `json:"provider"`
	Kind                JobKind      `json:"kind"`
	Link                Link         `json:"link"`
	Status              JobStatus    `json:"status"`
	Stage               JobStage     `json:"stage"`
	Progress            float64      `json:"progress"`
	Message             string       `json:"message,omitempty"`
	NeedsSecondaryStage bool         `json:"needs_secondary_stage"`
	SecondaryDone       bool         `json:"secondary_done"`
	CreatedAt           time.Time    `json:"created_at"`
	LastPolledAt        time.Time    `json:"last_polled_at"`

	// Files is set by adapters whose submission already yields direct links
	Files []ResolvedFile `json:"files,omitempty"`
}

// NewRemoteJob creates a job in the submitted state
func NewRemoteJob(provider ProviderName, kind JobKind, remoteID string, link Link) *RemoteJob {
	return &RemoteJob{
		ID:        uuid.NewString(),
		RemoteID:  remoteID,
		Provider:  provider,
		Kind:      kind,
		Link:      link,
		Status:    JobSubmitted,
		Stage:     StagePrimary,
		CreatedAt: time.Now(),
	}
}

// Advance moves the job to next if that is a forward transition.
// It returns false and leaves the job untouched otherwise.
func (j *RemoteJob) Advance(next JobStatus) bool {
	if j.Status.IsTerminal() || next <= j.Status {
		return false
	}
	j.Status = next
	return true
}

// Ready reports whether files may be listed for this job
func (j *RemoteJob) Ready() bool {
	if j.Status != JobReady {
		return false
	}
	return !j.NeedsSecondaryStage || j.SecondaryDone
}

// JobSnapshot is what a single poll observed on the provider side
type JobSnapshot struct {
	Status        JobStatus
	Progress      float64 // 0..100
	Message       string
	Speed         int64 // bytes per second
	Seeders       int
	SecondaryDone bool
}

// ResolvedFile is one downloadable file produced by a resolution
type ResolvedFile struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	DirectURL string `json:"direct_url"`
	Key       string `json:"key,omitempty"` // hex MEGA file key when the payload is encrypted
}

// Reindex assigns 1-based indices in slice order
func Reindex(files []ResolvedFile) []ResolvedFile {
	for i := range files {
		files[i].Index = i + 1
	}
	return files
}
