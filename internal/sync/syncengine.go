// Package syncengine implements the incremental sync algorithm: it turns
// a VCS diff into staged SQLite rows, staged text-index documents, and
// staged embeddings, then publishes them atomically, with renames expanded
// to delete+add and deletes sequenced as symbols, manifest row, then
// edges.
package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalridge/cruxe/internal/embedprovider"
	cerrors "github.com/signalridge/cruxe/internal/errors"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/ids"
	"github.com/signalridge/cruxe/internal/maintenance"
	"github.com/signalridge/cruxe/internal/overlay"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/textindex"
	"github.com/signalridge/cruxe/internal/vcs"
	"github.com/signalridge/cruxe/internal/vectorindex"
)

// emptyTreeSHA is git's well-known hash of the empty tree, used as the
// "from" side of a diff when a full rebuild has to enumerate every file in
// the target ref as Added.
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Engine runs one sync at a time per (project, ref), serialized by the
// maintenance lock and the unique-active-job index.
type Engine struct {
	Store     *storage.Store
	VCS       vcs.Adapter
	Extractor extract.Extractor
	Vectors   *vectorindex.Index
	Embedder  embedprovider.Provider

	// DataDir is the project's data directory (parent of state.db, base
	// text index, overlay/, and staging/).
	DataDir string

	// SemanticMode mirrors search.semantic.mode: embeddings are only
	// written when it is "hybrid".
	SemanticMode string
}

func New(store *storage.Store, vcsAdapter vcs.Adapter, extractor extract.Extractor, vectors *vectorindex.Index, embedder embedprovider.Provider, dataDir, semanticMode string) *Engine {
	return &Engine{
		Store: store, VCS: vcsAdapter, Extractor: extractor, Vectors: vectors,
		Embedder: embedder, DataDir: dataDir, SemanticMode: semanticMode,
	}
}

// Request is one sync invocation. sync_id and last_indexed_commit are
// derived internally rather than accepted: the engine itself owns job/sync
// id generation and reads last_indexed_commit from branch_state.
type Request struct {
	ProjectID       string
	RepoRoot        string
	Ref             string
	BaseRef         string // the project's default ref, used as the overlay merge-base anchor
	IsDefaultBranch bool
	Force           bool // treat as ancestry-broken even if is_ancestor would say otherwise

	// JobID, when set, names the index job row instead of a generated id —
	// the indexer subprocess receives it via CRUXE_JOB_ID so the spawning
	// tool handler can report the job before the subprocess has started.
	JobID string
}

// Result is what the caller (index_repo/sync_repo tool handlers, or the CLI
// indexer subprocess) reports back to the agent.
type Result struct {
	JobID            string
	SyncID           string
	Mode             string
	HeadCommit       string
	MergeBaseCommit  string
	Rebuilt          bool
	ChangedFiles     int
	FilesIndexed     int
	SymbolsExtracted int
	DurationMs       int64
}

// Sync runs the full 13-step algorithm. Any failure after the job row is
// created rolls the job back to JobRolledBack with the error recorded, and
// undoes the overlay swap if it had already happened.
func (e *Engine) Sync(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	paths := overlay.Paths{DataDir: e.DataDir}

	lock, lockErr := maintenance.Acquire(ctx, e.DataDir, "overlay_sync:"+req.Ref)
	if lockErr != nil {
		return nil, cerrors.Newf(cerrors.CodeIndexInProgress, "could not acquire maintenance lock for ref %q: %v", req.Ref, lockErr)
	}
	defer lock.Release()

	if active, activeErr := e.Store.GetActiveJobForRef(ctx, req.ProjectID, req.Ref); activeErr == nil {
		return nil, cerrors.Newf(cerrors.CodeIndexInProgress, "sync job %s is already active for ref %q", active.JobID, req.Ref).
			WithData(map[string]any{"job_id": active.JobID})
	} else if !cerrors.IsNotFound(activeErr) {
		return nil, activeErr
	}

	sourceDir := req.RepoRoot
	var worktreePath string
	if !req.IsDefaultBranch {
		worktreePath = paths.WorktreeDir(req.ProjectID, req.Ref)
		wt, wtErr := e.VCS.EnsureWorktree(ctx, req.RepoRoot, worktreePath, req.Ref)
		if wtErr != nil {
			return nil, cerrors.Wrap("vcs", "ensure worktree", wtErr)
		}
		sourceDir = wt

		lease, leaseErr := e.Store.GetWorktreeLease(ctx, req.ProjectID, req.Ref)
		refcount := 1
		if leaseErr == nil {
			refcount = lease.Refcount + 1
		} else if !cerrors.IsNotFound(leaseErr) {
			return nil, leaseErr
		}
		if err2 := e.Store.UpsertWorktreeLease(ctx, &storage.WorktreeLease{
			ProjectID: req.ProjectID, Ref: req.Ref, WorktreePath: sourceDir,
			OwnerPID: os.Getpid(), Refcount: refcount, Status: storage.WorktreeStatusActive,
		}); err2 != nil {
			return nil, err2
		}
		defer func() {
			_ = e.Store.ReleaseWorktreeLease(context.Background(), req.ProjectID, req.Ref)
		}()
	}

	head, headErr := e.VCS.ResolveHead(ctx, sourceDir)
	if headErr != nil {
		return nil, cerrors.Wrap("vcs", "resolve head", headErr)
	}

	bs, bsErr := e.Store.GetBranchState(ctx, req.ProjectID, req.Ref)
	if bsErr != nil && !cerrors.IsNotFound(bsErr) {
		return nil, bsErr
	}
	lastIndexed := ""
	if bs != nil {
		lastIndexed = bs.LastIndexedCommit
	}

	isAncestor := false
	if lastIndexed != "" {
		isAncestor, err = e.VCS.IsAncestor(ctx, sourceDir, lastIndexed, head)
		if err != nil {
			return nil, cerrors.Wrap("vcs", "is ancestor", err)
		}
	}
	rebuild := req.Force || bs == nil || !isAncestor

	var mode string
	if req.IsDefaultBranch {
		if rebuild {
			mode = "full"
		} else {
			mode = "incremental"
		}
	} else {
		if rebuild {
			mode = "overlay_rebuild"
		} else {
			mode = "overlay_incremental"
		}
	}

	var targetDir string
	if req.IsDefaultBranch {
		targetDir = paths.BaseDir()
	} else {
		targetDir = paths.OverlayDir(req.Ref)
	}

	if rebuild {
		if err = e.Vectors.DeleteVectorsForRef(ctx, e.Store.DB(), req.ProjectID, req.Ref); err != nil {
			return nil, err
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	syncID := uuid.NewString()
	job := &storage.IndexJob{
		JobID: jobID, ProjectID: req.ProjectID, Ref: req.Ref, Mode: mode,
		HeadCommit: head, SyncID: syncID, Status: storage.JobQueued,
	}
	if err = e.Store.CreateIndexJob(ctx, job); err != nil {
		return nil, err
	}
	if err = e.Store.UpdateJobStatus(ctx, jobID, storage.JobRunning, ""); err != nil {
		return nil, err
	}

	swapped := false
	defer func() {
		if err != nil {
			if swapped {
				_ = overlay.RollbackPublishDir(targetDir)
			}
			_ = e.Store.UpdateJobStatus(context.Background(), jobID, storage.JobRolledBack, err.Error())
		}
	}()

	// Plan: the merge-base diff only makes sense when ref and base_ref
	// differ (the overlay case, where the overlay content is the ref's
	// full delta against the default branch). For the default ref
	// itself, base_ref == ref, so the diff source is
	// last_indexed_commit instead — an ordinary incremental re-index of
	// the primary checkout.
	var mergeBaseCommit, fromRef string
	switch {
	case req.IsDefaultBranch:
		mergeBaseCommit = lastIndexed
		if rebuild || lastIndexed == "" {
			fromRef = emptyTreeSHA
		} else {
			fromRef = lastIndexed
		}
	default:
		mb, mbErr := e.VCS.MergeBase(ctx, sourceDir, req.BaseRef, head)
		if mbErr != nil {
			// Diverged or unrelated histories: fall back to a full
			// enumeration of ref's tree as the overlay content.
			mergeBaseCommit = head
			fromRef = emptyTreeSHA
		} else {
			mergeBaseCommit = mb
			fromRef = mb
		}
	}

	changes, diffErr := e.VCS.DiffNameStatus(ctx, sourceDir, fromRef, head)
	if diffErr != nil {
		err = cerrors.Wrap("vcs", "diff name status", diffErr)
		return nil, err
	}

	stagingDir := overlay.Paths{DataDir: e.DataDir}.StagingDir(syncID)
	if _, err = overlay.CreateStagingIndexSet(e.DataDir, syncID); err != nil {
		return nil, err
	}
	if !rebuild {
		if err = overlay.SeedStagingFromExisting(stagingDir, targetDir); err != nil {
			err = cerrors.Wrap("io", "seed staging from existing index", err)
			return nil, err
		}
	}
	staging, openErr := textindex.Open(stagingDir)
	if openErr != nil {
		err = openErr
		return nil, err
	}
	defer staging.Close()

	filesIndexed := 0
	symbolsExtracted := 0
	var tombstones []*storage.BranchTombstone
	var pendingEmbeds []pendingEmbed

	txErr := e.Store.WithTx(ctx, func(execer storage.SQLExecer) error {
		// Build the symbol lookup for unresolved call-target resolution
		// (step 8) as files are staged; keyed by qualified name and by
		// bare name within the file set being touched this sync.
		byQualifiedName := map[string]*storage.Symbol{}
		byName := map[string][]*storage.Symbol{}

		for _, ch := range changes {
			switch ch.Type {
			case vcs.Deleted:
				existing, lerr := e.Store.ListSymbolsForFile(ctx, req.ProjectID, req.Ref, ch.Path)
				if lerr != nil && !cerrors.IsNotFound(lerr) {
					return lerr
				}
				var stableIDs []string
				for _, sym := range existing {
					stableIDs = append(stableIDs, sym.SymbolStableID)
				}

				if derr := e.Store.DeleteSymbolsForFile(ctx, execer, req.ProjectID, req.Ref, ch.Path); derr != nil {
					return derr
				}
				if derr := e.Store.DeleteFileManifest(ctx, execer, req.ProjectID, req.Ref, ch.Path); derr != nil {
					return derr
				}
				if derr := e.Store.ReplaceImportEdgesForFile(ctx, execer, req.ProjectID, req.Ref, ch.Path, nil); derr != nil {
					return derr
				}
				if derr := e.Store.DeleteEdgesForDeletedFile(ctx, execer, req.ProjectID, req.Ref, ch.Path, stableIDs); derr != nil {
					return derr
				}
				if derr := e.Vectors.DeleteVectorsForPath(ctx, execer, req.ProjectID, req.Ref, ch.Path); derr != nil {
					return derr
				}
				// A file that was never indexed (e.g. it was added and
				// deleted between two syncs without a channel doc) is not
				// an error here; DeleteByPath is a no-op for an unknown id.
				if derr := staging.DeleteByPath(textindex.ChannelSymbols, ch.Path); derr != nil {
					return derr
				}
				if derr := staging.DeleteByPath(textindex.ChannelSnippets, ch.Path); derr != nil {
					return derr
				}
				if derr := staging.DeleteByPath(textindex.ChannelFiles, ch.Path); derr != nil {
					return derr
				}
				tombstones = append(tombstones, &storage.BranchTombstone{
					ProjectID: req.ProjectID, Ref: req.Ref, Path: ch.Path, TombstoneType: storage.TombstoneDeleted,
				})

			case vcs.Added, vcs.Modified:
				if ch.Type == vcs.Modified {
					// Best-effort: a channel doc missing from a previous
					// partial sync must not block reinserting its replacement.
					_ = staging.DeleteByPath(textindex.ChannelSymbols, ch.Path)
					_ = staging.DeleteByPath(textindex.ChannelSnippets, ch.Path)
					_ = staging.DeleteByPath(textindex.ChannelFiles, ch.Path)
					if derr := e.Vectors.DeleteVectorsForPath(ctx, execer, req.ProjectID, req.Ref, ch.Path); derr != nil {
						return derr
					}
				}

				content, rerr := os.ReadFile(filepath.Join(sourceDir, ch.Path))
				if rerr != nil {
					// File vanished between diff and read (race with a
					// concurrent checkout) — log-and-skip, not a hard
					// failure, matching the parse-failure tolerance.
					continue
				}
				language := languageForPath(ch.Path)
				if !e.Extractor.SupportsLanguage(language) {
					if merr := e.Store.UpsertFileManifest(ctx, execer, &storage.FileManifestEntry{
						ProjectID: req.ProjectID, Ref: req.Ref, Path: ch.Path,
						ContentHash: contentHash(content), SizeBytes: int64(len(content)), Language: language,
					}); merr != nil {
						return merr
					}
					continue
				}

				extraction, eerr := e.Extractor.Extract(language, ch.Path, string(content))
				if eerr != nil {
					// Metadata-only update: record the file manifest row
					// but skip symbol/edge/snippet extraction.
					if merr := e.Store.UpsertFileManifest(ctx, execer, &storage.FileManifestEntry{
						ProjectID: req.ProjectID, Ref: req.Ref, Path: ch.Path,
						ContentHash: contentHash(content), SizeBytes: int64(len(content)), Language: language,
					}); merr != nil {
						return merr
					}
					continue
				}

				if merr := e.Store.UpsertFileManifest(ctx, execer, &storage.FileManifestEntry{
					ProjectID: req.ProjectID, Ref: req.Ref, Path: ch.Path,
					ContentHash: contentHash(content), SizeBytes: int64(len(content)), Language: language,
				}); merr != nil {
					return merr
				}

				if derr := e.Store.DeleteSymbolsForFile(ctx, execer, req.ProjectID, req.Ref, ch.Path); derr != nil {
					return derr
				}

				contentLines := strings.Split(string(content), "\n")
				for _, sym := range extraction.Symbols {
					qualified := sym.QualifiedName
					if qualified == "" {
						qualified = sym.Name
					}
					stableID := ids.SymbolStableID(language, sym.Kind, qualified, sym.Signature)
					symbolID := ids.SymbolID(req.ProjectID, req.Ref, ch.Path, sym.Kind, sym.LineStart, sym.Name)
					body := sliceLines(contentLines, sym.LineStart, sym.LineEnd)
					rec := &storage.Symbol{
						ProjectID: req.ProjectID, Ref: req.Ref, Commit: head, Path: ch.Path,
						SymbolID: symbolID, SymbolStableID: stableID, Name: sym.Name,
						QualifiedName: qualified, Kind: sym.Kind, Language: language,
						LineStart: sym.LineStart, LineEnd: sym.LineEnd, Signature: sym.Signature,
						Visibility: sym.Visibility, Content: body, ContentHash: contentHash([]byte(body)),
					}
					if err2 := e.Store.InsertSymbol(ctx, execer, rec); err2 != nil {
						return err2
					}
					byQualifiedName[qualified] = rec
					byName[sym.Name] = append(byName[sym.Name], rec)

					if err2 := staging.IndexSymbol(symbolID, &textindex.SymbolDoc{
						SymbolExact: sym.Name, QualifiedName: qualified, Signature: sym.Signature,
						Content: body, Path: ch.Path, Kind: sym.Kind, Language: language,
						Visibility: sym.Visibility, Ref: req.Ref, Repo: req.ProjectID,
						SymbolID: symbolID, SymbolStableID: stableID, Role: "definition",
						LineStart: sym.LineStart, LineEnd: sym.LineEnd,
					}); err2 != nil {
						return cerrors.Wrap("textindex", "index symbol", err2)
					}
					symbolsExtracted++

					pendingEmbeds = append(pendingEmbeds, pendingEmbed{
						path: ch.Path, lineStart: sym.LineStart, lineEnd: sym.LineEnd,
						language: language, stableID: stableID, text: body, chunkType: "symbol",
					})
				}

				sourceID := ids.SourceSymbolID(ch.Path)
				var importEdges []*storage.SymbolEdge
				for _, imp := range extraction.Imports {
					importEdges = append(importEdges, &storage.SymbolEdge{
						ProjectID: req.ProjectID, Ref: req.Ref, FromSymbolID: sourceID,
						ToName: imp.Target, EdgeType: storage.EdgeImports, Confidence: storage.ConfidenceStatic,
						SourceFile: ch.Path, SourceLine: imp.Line,
					})
				}
				if err2 := e.Store.ReplaceImportEdgesForFile(ctx, execer, req.ProjectID, req.Ref, ch.Path, importEdges); err2 != nil {
					return err2
				}

				var callEdges []*storage.SymbolEdge
				for _, call := range extraction.Calls {
					from := sourceID
					if fromSym := byQualifiedName[call.FromQualifiedName]; fromSym != nil {
						from = fromSym.SymbolID
					}
					edge := &storage.SymbolEdge{
						ProjectID: req.ProjectID, Ref: req.Ref, FromSymbolID: from,
						ToName: call.ToName, EdgeType: storage.EdgeCalls, Confidence: storage.ConfidenceHeuristic,
						SourceFile: ch.Path, SourceLine: call.Line,
					}
					if target := byName[call.ToName]; len(target) == 1 {
						edge.ToSymbolID = target[0].SymbolStableID
						edge.Confidence = storage.ConfidenceStatic
					}
					callEdges = append(callEdges, edge)
				}
				if err2 := e.Store.ReplaceCallEdgesForFiles(ctx, execer, req.ProjectID, req.Ref, []string{ch.Path}, callEdges); err2 != nil {
					return err2
				}

				headText := string(content)
				if len(headText) > 4096 {
					headText = headText[:4096]
				}
				if err2 := staging.IndexFile(ids.SourceSymbolID(ch.Path), &textindex.FileDoc{
					Path: ch.Path, Filename: filepath.Base(ch.Path), ContentHead: headText,
					Ref: req.Ref, Repo: req.ProjectID, Language: language,
				}); err2 != nil {
					return cerrors.Wrap("textindex", "index file", err2)
				}

				for _, snippet := range chunkSnippets(contentLines, 40) {
					snippetID := ids.SymbolID(req.ProjectID, req.Ref, ch.Path, "snippet", snippet.start, fmt.Sprintf("chunk-%d", snippet.start))
					if err2 := staging.IndexSnippet(snippetID, &textindex.SnippetDoc{
						Content: snippet.text, Path: ch.Path, Ref: req.Ref, Repo: req.ProjectID,
						Language: language, LineStart: snippet.start, LineEnd: snippet.end, ChunkType: "window",
					}); err2 != nil {
						return cerrors.Wrap("textindex", "index snippet", err2)
					}
					if e.SemanticMode == "hybrid" {
						pendingEmbeds = append(pendingEmbeds, pendingEmbed{
							path: ch.Path, lineStart: snippet.start, lineEnd: snippet.end,
							language: language, stableID: "", text: snippet.text, chunkType: "window",
						})
					}
				}

				filesIndexed++
				tombstones = append(tombstones, &storage.BranchTombstone{
					ProjectID: req.ProjectID, Ref: req.Ref, Path: ch.Path, TombstoneType: storage.TombstoneReplaced,
				})
			}
		}

		// Step 9: write embeddings for newly-staged snippets when
		// semantic.mode=hybrid.
		if e.SemanticMode == "hybrid" && len(pendingEmbeds) > 0 {
			texts := make([]string, len(pendingEmbeds))
			for i, p := range pendingEmbeds {
				texts[i] = p.text
			}
			vecs, eerr := e.Embedder.EmbedBatch(ctx, texts)
			if eerr != nil {
				return cerrors.Wrap("embedding", "embed batch", eerr)
			}
			var records []*vectorindex.Record
			for i, p := range pendingEmbeds {
				if i >= len(vecs) {
					break
				}
				stableID := p.stableID
				if stableID == "" {
					stableID = ids.SymbolStableID(p.language, p.chunkType, p.path, fmt.Sprintf("%d-%d", p.lineStart, p.lineEnd))
				}
				records = append(records, &vectorindex.Record{
					ProjectID: req.ProjectID, Ref: req.Ref, SymbolStableID: stableID,
					SnippetHash: contentHash([]byte(p.text)), EmbeddingModelID: e.Embedder.ModelID(),
					EmbeddingModelVersion: e.Embedder.ModelVersion(), Dimensions: e.Embedder.Dimensions(),
					Path: p.path, LineStart: p.lineStart, LineEnd: p.lineEnd, Language: p.language,
					ChunkType: p.chunkType, SnippetText: p.text, Vector: vecs[i],
				})
			}
			if len(records) > 0 {
				if verr := e.Vectors.UpsertVectorsTx(ctx, execer, records); verr != nil {
					return verr
				}
			}
		}

		// Step 10: tombstones mirror the merge-base delta, full replace.
		if terr := e.Store.ReplaceTombstones(ctx, execer, req.ProjectID, req.Ref, tombstones); terr != nil {
			return terr
		}

		// Step 11 (part 1): swap the staged text index onto the target
		// dir while still inside the SQLite transaction, so a failure
		// from here on rolls both back together.
		if serr := staging.Close(); serr != nil {
			return cerrors.Wrap("textindex", "close staging before swap", serr)
		}
		if serr := overlay.CommitStagingToDir(stagingDir, targetDir); serr != nil {
			return serr
		}
		swapped = true
		return nil
	})
	if txErr != nil {
		err = txErr
		return nil, err
	}

	if ferr := overlay.FinalizePublishDir(targetDir); ferr != nil {
		err = ferr
		return nil, err
	}

	fileCount, symbolCount := fileAndSymbolTotals(ctx, e.Store, req.ProjectID, req.Ref)
	if berr := e.Store.UpsertBranchState(ctx, e.Store.DB(), &storage.BranchState{
		ProjectID: req.ProjectID, Ref: req.Ref, MergeBaseCommit: mergeBaseCommit,
		LastIndexedCommit: head, OverlayDir: targetDir, FileCount: fileCount, SymbolCount: symbolCount,
		IsDefaultBranch: req.IsDefaultBranch, Status: storage.BranchActive,
	}); berr != nil {
		err = berr
		return nil, err
	}

	durationMs := time.Since(start).Milliseconds()
	if cerr := e.Store.CompleteJob(ctx, jobID, storage.JobPublished, durationMs, len(changes)); cerr != nil {
		err = cerr
		return nil, err
	}

	return &Result{
		JobID: jobID, SyncID: syncID, Mode: mode, HeadCommit: head, MergeBaseCommit: mergeBaseCommit,
		Rebuilt: rebuild, ChangedFiles: len(changes), FilesIndexed: filesIndexed,
		SymbolsExtracted: symbolsExtracted, DurationMs: durationMs,
	}, nil
}

type pendingEmbed struct {
	path              string
	lineStart, lineEnd int
	language          string
	stableID          string
	text              string
	chunkType         string
}

type snippetChunk struct {
	start, end int
	text       string
}

// chunkSnippets splits a file into fixed-size line windows for the
// snippets channel and (when enabled) embedding.
func chunkSnippets(lines []string, windowSize int) []snippetChunk {
	var out []snippetChunk
	for i := 0; i < len(lines); i += windowSize {
		end := i + windowSize
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, snippetChunk{start: i + 1, end: end, text: strings.Join(lines[i:end], "\n")})
	}
	return out
}

func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end || start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var extLanguage = map[string]string{
	".go": "go", ".rs": "rust", ".py": "python", ".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".java": "java", ".c": "c", ".h": "c",
	".cpp": "cpp", ".cc": "cpp", ".hpp": "cpp",
}

func languageForPath(path string) string {
	if lang, ok := extLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}

func fileAndSymbolTotals(ctx context.Context, store *storage.Store, projectID, ref string) (int, int) {
	files, err := store.ListFileManifest(ctx, projectID, ref)
	fileCount := 0
	if err == nil {
		fileCount = len(files)
	}
	symbolCount := 0
	for _, f := range files {
		syms, serr := store.ListSymbolsForFile(ctx, projectID, ref, f.Path)
		if serr == nil {
			symbolCount += len(syms)
		}
	}
	return fileCount, symbolCount
}
