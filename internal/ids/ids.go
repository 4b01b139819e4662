// Package ids computes the deterministic content hashes that give projects,
// symbols, and retrieval results stable identity across re-indexing.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strconv"
	"strings"
)

// ProjectID derives the project identity from its repository root. Two
// workspaces pointing at the same canonical root must collide on purpose.
func ProjectID(repoRoot string) string {
	return digest("project", repoRoot)
}

// SymbolID is the site-local identity hash: it changes whenever the symbol
// moves in the file, which is the point (it tracks "this definition here").
func SymbolID(projectID, ref, path, kind string, lineStart int, name string) string {
	return digest("symbol", projectID, ref, path, kind, strconv.Itoa(lineStart), name)
}

// SymbolStableID is the cross-site identity hash: it survives a symbol moving
// within a file or being reindexed, as long as its language/kind/qualified
// name/signature are unchanged.
func SymbolStableID(language, kind, qualifiedName, signature string) string {
	return digest("stable", language, kind, qualifiedName, signature)
}

// SourceSymbolID identifies the synthetic "file as import source" node used
// when recording import edges that originate from a file rather than a
// symbol. It only needs to be deterministic and injective over paths within
// a single (project, ref) scope, which callers already provide by scoping
// queries to that pair.
func SourceSymbolID(path string) string {
	return digest("file-source", path)
}

// ResultID is the stable hash that lets RRF dedup a result across lexical
// channels and the semantic channel: same (type, location, identity) tuple
// must always produce the same id.
func ResultID(resultType, repo, ref, path string, lineStart, lineEnd int, kind, name, qualifiedName, language, symbolStableID string) string {
	return digest("result", resultType, repo, ref, path,
		strconv.Itoa(lineStart), strconv.Itoa(lineEnd),
		kind, name, qualifiedName, language, symbolStableID)
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// FNV64 returns a shorter, non-cryptographic key over parts. No package in
// the module calls it; vector index keys are plain strings.
func FNV64(parts ...string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return h.Sum64()
}

// NormalizeRef turns a VCS ref name into a single filesystem path component,
// per the on-disk layout contract: every ref becomes one directory segment.
func NormalizeRef(ref string) string {
	r := strings.ReplaceAll(ref, "/", "__")
	r = strings.ReplaceAll(r, string([]byte{0}), "")
	if r == "" {
		return "live"
	}
	return r
}
