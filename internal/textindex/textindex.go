// Package textindex holds the three parallel bleve inverted indices
// (symbols, snippets, files), each with a fixed field set, shared by the
// base index, overlays, and staging scratch areas.
package textindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	cerrors "github.com/signalridge/cruxe/internal/errors"
)

// Channel names the three parallel indices.
type Channel string

const (
	ChannelSymbols  Channel = "symbols"
	ChannelSnippets Channel = "snippets"
	ChannelFiles    Channel = "files"
)

var AllChannels = []Channel{ChannelSymbols, ChannelSnippets, ChannelFiles}

// FieldBoosts are the per-field boosts applied to symbol-channel queries.
var FieldBoosts = map[string]float64{
	"symbol_exact":   10,
	"qualified_name": 3,
	"signature":      1.5,
	"path":           1.0,
	"content":        0.5,
}

// Set bundles the three channel indices for one base or overlay scope, and
// the directory they were opened from (so Prewarm / Close can be generic).
type Set struct {
	Dir     string
	indices map[Channel]bleve.Index
}

// Open opens (or creates) the three channel subdirectories under dir:
// dir/symbols, dir/snippets, dir/files — the shared on-disk layout of
// the base index and every overlay/staging scope.
func Open(dir string) (*Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerrors.Wrap("io", "mkdir textindex dir", err)
	}
	s := &Set{Dir: dir, indices: make(map[Channel]bleve.Index, len(AllChannels))}
	for _, ch := range AllChannels {
		idx, err := openOrCreate(filepath.Join(dir, string(ch)), mappingFor(ch))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.indices[ch] = idx
	}
	return s, nil
}

func openOrCreate(path string, m mapping.IndexMapping) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	idx, err = bleve.New(path, m)
	if err != nil {
		return nil, cerrors.Wrap("textindex", fmt.Sprintf("open/create %s", path), err)
	}
	return idx, nil
}

func (s *Set) Index(ch Channel) bleve.Index { return s.indices[ch] }

func (s *Set) Close() error {
	var firstErr error
	for _, idx := range s.indices {
		if idx == nil {
			continue
		}
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reopen closes and reopens every channel reader, so a long-lived process
// observes fresh segments on an index whose contents changed underneath
// it. The connection manager's cached base and overlay sets are both
// reopened this way per query.
func (s *Set) Reopen() error {
	dir := s.Dir
	if err := s.Close(); err != nil {
		return err
	}
	fresh, err := Open(dir)
	if err != nil {
		return err
	}
	s.indices = fresh.indices
	return nil
}

func mappingFor(ch Channel) mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	numeric := bleve.NewNumericFieldMapping()

	switch ch {
	case ChannelSymbols:
		doc.AddFieldMappingsAt("symbol_exact", keyword)
		doc.AddFieldMappingsAt("qualified_name", text)
		doc.AddFieldMappingsAt("signature", text)
		doc.AddFieldMappingsAt("content", text)
		doc.AddFieldMappingsAt("path", keyword)
		doc.AddFieldMappingsAt("kind", keyword)
		doc.AddFieldMappingsAt("language", keyword)
		doc.AddFieldMappingsAt("visibility", keyword)
		doc.AddFieldMappingsAt("ref", keyword)
		doc.AddFieldMappingsAt("repo", keyword)
		doc.AddFieldMappingsAt("symbol_id", keyword)
		doc.AddFieldMappingsAt("symbol_stable_id", keyword)
		doc.AddFieldMappingsAt("role", keyword)
		doc.AddFieldMappingsAt("line_start", numeric)
		doc.AddFieldMappingsAt("line_end", numeric)
	case ChannelSnippets:
		doc.AddFieldMappingsAt("content", text)
		doc.AddFieldMappingsAt("path", keyword)
		doc.AddFieldMappingsAt("imports", text)
		doc.AddFieldMappingsAt("ref", keyword)
		doc.AddFieldMappingsAt("repo", keyword)
		doc.AddFieldMappingsAt("language", keyword)
		doc.AddFieldMappingsAt("line_start", numeric)
		doc.AddFieldMappingsAt("line_end", numeric)
		doc.AddFieldMappingsAt("chunk_type", keyword)
	case ChannelFiles:
		doc.AddFieldMappingsAt("path", keyword)
		doc.AddFieldMappingsAt("filename", text)
		doc.AddFieldMappingsAt("content_head", text)
		doc.AddFieldMappingsAt("ref", keyword)
		doc.AddFieldMappingsAt("repo", keyword)
		doc.AddFieldMappingsAt("language", keyword)
	}

	im.DefaultMapping = doc
	return im
}
