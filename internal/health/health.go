// Package health implements the health_check tool's aggregation: text
// index reachability, a SQLite ping, prewarm status, installed/missing
// language grammars, the active job (if any) and interrupted-job recovery
// report, and per-project schema compatibility — a flat status struct
// assembled from independent subsystem checks.
package health

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/storage"
)

// Status is the overall health_check verdict.
type Status string

const (
	StatusReady    Status = "ready"
	StatusWarming  Status = "warming"
	StatusIndexing Status = "indexing"
	StatusError    Status = "error"
)

// PrewarmStatus is the background-prewarm goroutine's lifecycle state.
type PrewarmStatus string

const (
	PrewarmPending  PrewarmStatus = "pending"
	PrewarmWarming  PrewarmStatus = "warming"
	PrewarmComplete PrewarmStatus = "complete"
	PrewarmFailed   PrewarmStatus = "failed"
	PrewarmSkipped  PrewarmStatus = "skipped"
)

// Grammars reports which tree-sitter-equivalent language extractors are
// available versus configured-but-missing.
type Grammars struct {
	Available []string
	Missing   []string
}

// StartupCheck captures one project's schema compatibility at boot.
type StartupCheck struct {
	ProjectID              string
	Status                 string // ok, reindex_required
	CurrentSchemaVersion   int
	RequiredSchemaVersion  int
	Message                string
}

// ProjectSummary is one entry of health_check's `projects` array.
type ProjectSummary struct {
	ProjectID    string
	RepoRoot     string
	SchemaStatus string
	ActiveJobID  string
}

// Report is the full health_check payload.
type Report struct {
	Status                   Status
	Version                  string
	UptimeSeconds            float64
	TantivyOK                bool // text index reachability (historical wire field name, kept for client compatibility)
	SQLiteOK                 bool
	SQLiteError              string
	PrewarmStatus            PrewarmStatus
	Grammars                 Grammars
	ActiveJobID              string
	StartupChecks            []StartupCheck
	Projects                 []ProjectSummary
	InterruptedRecoveryReport []InterruptedJob
}

type InterruptedJob struct {
	JobID     string
	ProjectID string
	Ref       string
}

// Monitor owns the process-wide state health_check reports on: start time,
// version string, prewarm status, and the supported language set, plus a
// registry of the known projects' stores to ping.
type Monitor struct {
	Version         string
	StartedAt       time.Time
	SupportedLangs  []string
	ConfiguredLangs []string

	mu            sync.RWMutex
	prewarm       PrewarmStatus
	interrupted   []InterruptedJob
}

func New(version string, supportedLangs, configuredLangs []string) *Monitor {
	return &Monitor{
		Version:         version,
		StartedAt:       time.Now(),
		SupportedLangs:  supportedLangs,
		ConfiguredLangs: configuredLangs,
		prewarm:         PrewarmPending,
	}
}

func (m *Monitor) SetPrewarmStatus(s PrewarmStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prewarm = s
}

func (m *Monitor) PrewarmStatusValue() PrewarmStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prewarm
}

// RecordInterrupted stores the jobs MarkInterruptedJobs flipped at startup
// so health_check can surface them; the list is kept for the life of the
// process and every Check reports it.
func (m *Monitor) RecordInterrupted(jobs []InterruptedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupted = jobs
}

func (m *Monitor) grammars() Grammars {
	supported := make(map[string]bool, len(m.SupportedLangs))
	for _, l := range m.SupportedLangs {
		supported[l] = true
	}
	g := Grammars{}
	for _, l := range m.ConfiguredLangs {
		if supported[l] {
			g.Available = append(g.Available, l)
		} else {
			g.Missing = append(g.Missing, l)
		}
	}
	return g
}

// Check assembles a full Report for one project's store (nil store means
// "not yet bootstrapped" — report sqlite_ok=false with no hard error).
func (m *Monitor) Check(ctx context.Context, store *storage.Store, projectID string) Report {
	m.mu.RLock()
	prewarm := m.prewarm
	interrupted := append([]InterruptedJob(nil), m.interrupted...)
	m.mu.RUnlock()

	r := Report{
		Version:                   m.Version,
		UptimeSeconds:             time.Since(m.StartedAt).Seconds(),
		TantivyOK:                 true,
		PrewarmStatus:             prewarm,
		Grammars:                  m.grammars(),
		InterruptedRecoveryReport: interrupted,
	}

	if store == nil {
		r.Status = StatusWarming
		return r
	}

	if err := store.DB().PingContext(ctx); err != nil {
		r.SQLiteOK = false
		r.SQLiteError = err.Error()
		r.Status = StatusError
		return r
	}
	r.SQLiteOK = true

	proj, err := store.GetProject(ctx, projectID)
	if err != nil && !cerrors.IsNotFound(err) {
		r.Status = StatusError
		r.SQLiteError = err.Error()
		return r
	}

	summary := ProjectSummary{ProjectID: projectID}
	check := StartupCheck{ProjectID: projectID, RequiredSchemaVersion: storage.CurrentSchemaVersion}
	if proj != nil {
		summary.RepoRoot = proj.RepoRoot
		check.CurrentSchemaVersion = proj.SchemaVersion
		if proj.SchemaVersion != storage.CurrentSchemaVersion {
			check.Status = "reindex_required"
			check.Message = "project schema version predates this build; run index_repo --force"
			summary.SchemaStatus = "reindex_required"
		} else {
			check.Status = "ok"
			summary.SchemaStatus = "ok"
		}
	}
	r.StartupChecks = []StartupCheck{check}
	r.Projects = []ProjectSummary{summary}

	switch {
	case check.Status == "reindex_required":
		r.Status = StatusError
	case prewarm == PrewarmWarming || prewarm == PrewarmPending:
		r.Status = StatusWarming
	default:
		r.Status = StatusReady
	}
	return r
}
