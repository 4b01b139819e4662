package textindex

// SymbolDoc is one document in the symbols channel.
type SymbolDoc struct {
	SymbolExact    string `json:"symbol_exact"`
	QualifiedName  string `json:"qualified_name"`
	Signature      string `json:"signature"`
	Content        string `json:"content"`
	Path           string `json:"path"`
	Kind           string `json:"kind"`
	Language       string `json:"language"`
	Visibility     string `json:"visibility"`
	Ref            string `json:"ref"`
	Repo           string `json:"repo"`
	SymbolID       string `json:"symbol_id"`
	SymbolStableID string `json:"symbol_stable_id"`
	Role           string `json:"role"`
	LineStart      int    `json:"line_start"`
	LineEnd        int    `json:"line_end"`
}

// SnippetDoc is one document in the snippets channel.
type SnippetDoc struct {
	Content   string `json:"content"`
	Path      string `json:"path"`
	Imports   string `json:"imports"`
	Ref       string `json:"ref"`
	Repo      string `json:"repo"`
	Language  string `json:"language"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	ChunkType string `json:"chunk_type"`
}

// FileDoc is one document in the files channel.
type FileDoc struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	ContentHead string `json:"content_head"`
	Ref         string `json:"ref"`
	Repo        string `json:"repo"`
	Language    string `json:"language"`
}

func (s *Set) IndexSymbol(id string, d *SymbolDoc) error {
	return s.Index(ChannelSymbols).Index(id, d)
}

func (s *Set) IndexSnippet(id string, d *SnippetDoc) error {
	return s.Index(ChannelSnippets).Index(id, d)
}

func (s *Set) IndexFile(id string, d *FileDoc) error {
	return s.Index(ChannelFiles).Index(id, d)
}

// DeleteByPath removes every document in ch whose path field matches,
// used by the sync engine's Deleted/Modified file handling.
func (s *Set) DeleteByPath(ch Channel, path string) error {
	idx := s.Index(ch)
	ids, err := idsForPath(idx, path)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := idx.Delete(id); err != nil {
			return err
		}
	}
	return nil
}
