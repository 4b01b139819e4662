// Package vcs defines the version-control adapter contract the sync engine
// and freshness gate depend on, plus a git implementation. Every operation
// shells out to the git binary rather than linking a git library, so
// behavior matches whatever git the workspace's worktree itself was
// checked out with.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Adapter is the VCS contract: only these primitives matter to the
// engine, and only the git implementation is provided — any adapter
// satisfying this interface can be swapped in.
type Adapter interface {
	ResolveHead(ctx context.Context, repoRoot string) (string, error)
	MergeBase(ctx context.Context, repoRoot, baseRef, ref string) (string, error)
	IsAncestor(ctx context.Context, repoRoot, ancestor, descendant string) (bool, error)
	DiffNameStatus(ctx context.Context, repoRoot, fromRef, toRef string) ([]Change, error)
	EnsureWorktree(ctx context.Context, repoRoot, worktreeRoot, ref string) (string, error)
}

// BranchResolver is an optional extension adapters may implement so the
// dispatcher's ref resolution can prefer the checked-out branch name over
// the project default. Kept off the core Adapter contract so existing
// Adapter implementations and mocks stay valid.
type BranchResolver interface {
	CurrentBranch(ctx context.Context, repoRoot string) (string, error)
}

// ChangeType mirrors git's diff --name-status single-letter codes,
// collapsed to the three actions the sync engine plans over.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Change is one row of a diff --name-status result after rename expansion:
// DiffNameStatus always turns a rename into Deleted(old) + Added(new),
// never as its own case, matching the sync algorithm's step 6.
type Change struct {
	Type ChangeType
	Path string
}

// Git is the default Adapter, shelling out to the git binary (no cgo, no
// vendored git library).
type Git struct{}

func NewGit() *Git { return &Git{} }

func (g *Git) run(ctx context.Context, repoRoot string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) ResolveHead(ctx context.Context, repoRoot string) (string, error) {
	return g.run(ctx, repoRoot, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name, or "" for a detached
// HEAD (exit status 1 from symbolic-ref).
func (g *Git) CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	out, err := g.run(ctx, repoRoot, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", nil
	}
	return out, nil
}

func (g *Git) MergeBase(ctx context.Context, repoRoot, baseRef, ref string) (string, error) {
	return g.run(ctx, repoRoot, "merge-base", baseRef, ref)
}

func (g *Git) IsAncestor(ctx context.Context, repoRoot, ancestor, descendant string) (bool, error) {
	if ancestor == "" {
		// No prior indexed commit recorded: treat as not-an-ancestor so the
		// sync engine takes the rebuild path, same as a fresh project.
		return false, nil
	}
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = repoRoot
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base --is-ancestor: %w", err)
}

// DiffNameStatus runs `git diff --name-status -M <from> <to>` and expands
// renames (status R###) into Deleted(old) + Added(new); downstream sync
// planning never sees a rename as its own action.
func (g *Git) DiffNameStatus(ctx context.Context, repoRoot, fromRef, toRef string) ([]Change, error) {
	out, err := g.run(ctx, repoRoot, "diff", "--name-status", "-M", fromRef, toRef)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "A"):
			changes = append(changes, Change{Type: Added, Path: fields[1]})
		case strings.HasPrefix(status, "M"):
			changes = append(changes, Change{Type: Modified, Path: fields[1]})
		case strings.HasPrefix(status, "D"):
			changes = append(changes, Change{Type: Deleted, Path: fields[1]})
		case strings.HasPrefix(status, "R"):
			if len(fields) < 3 {
				continue
			}
			changes = append(changes, Change{Type: Deleted, Path: fields[1]})
			changes = append(changes, Change{Type: Added, Path: fields[2]})
		case strings.HasPrefix(status, "C"):
			if len(fields) < 3 {
				continue
			}
			changes = append(changes, Change{Type: Added, Path: fields[2]})
		}
	}
	return changes, nil
}

// EnsureWorktree creates (if absent) a checkout of ref under
// worktrees/<project_id>/<ref> via `git worktree add`, returning its path.
// Idempotent: an existing worktree at the target path is reused as-is.
func (g *Git) EnsureWorktree(ctx context.Context, repoRoot, worktreeRoot, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--force", worktreeRoot, ref)
	cmd.Dir = repoRoot
	if err := cmd.Run(); err != nil {
		// A worktree already registered at this path is not an error for
		// our purposes — the caller just wants a usable checkout.
		if _, statErr := exec.LookPath("git"); statErr == nil {
			if out, checkErr := g.run(ctx, repoRoot, "worktree", "list"); checkErr == nil && strings.Contains(out, worktreeRoot) {
				return worktreeRoot, nil
			}
		}
		return "", fmt.Errorf("git worktree add: %w", err)
	}
	return worktreeRoot, nil
}
