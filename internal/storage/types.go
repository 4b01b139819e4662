package storage

import "time"

type Project struct {
	ProjectID      string
	RepoRoot       string
	DefaultRef     string
	VCSMode        string
	SchemaVersion  int
	ParserVersion  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FileManifestEntry struct {
	ProjectID   string
	Ref         string
	Path        string
	ContentHash string
	SizeBytes   int64
	MTimeNs     *int64
	Language    string
	IndexedAt   time.Time
}

type Symbol struct {
	ID              int64
	ProjectID       string
	Ref             string
	Commit          string
	Path            string
	SymbolID        string
	SymbolStableID  string
	Name            string
	QualifiedName   string
	Kind            string
	Language        string
	LineStart       int
	LineEnd         int
	Signature       string
	ParentSymbolID  string
	Visibility      string
	Content         string
	ContentHash     string
}

// EdgeConfidence grades how certain a symbol edge is: "static" for
// structurally resolved edges, "heuristic" for dynamic-dispatch guesses.
type EdgeConfidence string

const (
	ConfidenceStatic    EdgeConfidence = "static"
	ConfidenceHeuristic EdgeConfidence = "heuristic"
)

const (
	EdgeImports   = "imports"
	EdgeCalls     = "calls"
	EdgeExtends   = "extends"
	EdgeImplements = "implements"
)

type SymbolEdge struct {
	ID           int64
	ProjectID    string
	Ref          string
	FromSymbolID string
	ToSymbolID   string // may be empty
	ToName       string // may be empty
	EdgeType     string
	Confidence   EdgeConfidence
	SourceFile   string
	SourceLine   int
}

type BranchStatus string

const (
	BranchActive     BranchStatus = "active"
	BranchSyncing    BranchStatus = "syncing"
	BranchRebuilding BranchStatus = "rebuilding"
	BranchIndexing   BranchStatus = "indexing"
	BranchStale      BranchStatus = "stale"
	BranchEvictable  BranchStatus = "evictable"
)

type BranchState struct {
	ProjectID          string
	Ref                string
	MergeBaseCommit    string
	LastIndexedCommit  string
	OverlayDir         string
	FileCount          int
	SymbolCount        int
	IsDefaultBranch    bool
	Status             BranchStatus
	EvictionEligibleAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type TombstoneType string

const (
	TombstoneDeleted  TombstoneType = "deleted"
	TombstoneReplaced TombstoneType = "replaced"
)

type BranchTombstone struct {
	ProjectID     string
	Ref           string
	Path          string
	TombstoneType TombstoneType
	CreatedAt     time.Time
}

type WorktreeStatus string

const (
	WorktreeStatusActive   WorktreeStatus = "active"
	WorktreeStatusStale    WorktreeStatus = "stale"
	WorktreeStatusRemoving WorktreeStatus = "removing"
)

type WorktreeLease struct {
	ProjectID    string
	Ref          string
	WorktreePath string
	OwnerPID     int
	Refcount     int
	Status       WorktreeStatus
	CreatedAt    time.Time
	LastUsedAt   time.Time
	UpdatedAt    time.Time
}

type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobRunning     JobStatus = "running"
	JobValidating  JobStatus = "validating"
	JobPublished   JobStatus = "published"
	JobRolledBack  JobStatus = "rolled_back"
	JobInterrupted JobStatus = "interrupted"
)

var ActiveJobStatuses = []JobStatus{JobQueued, JobRunning, JobValidating}

type IndexJob struct {
	JobID            string
	ProjectID        string
	Ref              string
	Mode             string // full, incremental, overlay_rebuild, overlay_incremental
	HeadCommit       string
	SyncID           string
	Status           JobStatus
	ChangedFiles     int
	DurationMs       *int64
	ErrorMessage     string
	RetryCount       int
	ProgressToken    string
	FilesScanned     int
	FilesIndexed     int
	SymbolsExtracted int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SemanticVector struct {
	ProjectID             string
	Ref                   string
	SymbolStableID        string
	SnippetHash           string
	EmbeddingModelID      string
	EmbeddingModelVersion string
	Dimensions            int
	Path                  string
	LineStart             int
	LineEnd               int
	Language              string
	ChunkType             string
	SnippetText           string
	Vector                []float32
}

type KnownWorkspace struct {
	WorkspacePath  string
	ProjectID      string
	AutoDiscovered bool
	LastUsedAt     time.Time
	IndexStatus    string
}
