package textindex

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Hit is one ranked result from a single-channel query, carrying just
// enough to feed the RRF fusion stage: identity fields, the 1-based rank
// fusion uses, and the raw text-engine score (not read by fusion).
type Hit struct {
	ID            string
	Score         float64
	Rank          int // 1-based position within this channel's result list
	Fields        map[string]any
	Channel       Channel
}

// Query runs a boosted match query over ch, scoped to repo+ref, with an
// optional role filter, applied to symbol-channel queries only.
func (s *Set) Query(ch Channel, text, repo, ref, role string, limit int) ([]Hit, error) {
	idx := s.Index(ch)

	mainQuery := buildBoostedQuery(ch, text)
	conj := bleve.NewConjunctionQuery(mainQuery)
	if repo != "" {
		rq := bleve.NewMatchQuery(repo)
		rq.SetField("repo")
		conj.AddQuery(rq)
	}
	if ref != "" {
		refq := bleve.NewMatchQuery(ref)
		refq.SetField("ref")
		conj.AddQuery(refq)
	}
	if role != "" && ch == ChannelSymbols {
		roleq := bleve.NewMatchQuery(role)
		roleq.SetField("role")
		conj.AddQuery(roleq)
	}

	req := bleve.NewSearchRequestOptions(conj, limit, 0, false)
	req.Fields = []string{"*"}
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		hits = append(hits, Hit{
			ID:      h.ID,
			Score:   h.Score,
			Rank:    i + 1,
			Fields:  h.Fields,
			Channel: ch,
		})
	}
	return hits, nil
}

// buildBoostedQuery constructs the per-field boosted disjunction query for
// ch (symbol_exact x10, qualified_name x3, signature x1.5, path x1.0,
// content x0.5). The snippets channel uses a plain match query over
// content; the files channel matches filename or content_head.
func buildBoostedQuery(ch Channel, text string) query.Query {
	if ch != ChannelSymbols {
		field := "content"
		if ch == ChannelFiles {
			field = "filename"
		}
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		cq := bleve.NewMatchQuery(text)
		if ch == ChannelFiles {
			cq.SetField("content_head")
			return bleve.NewDisjunctionQuery(mq, cq)
		}
		return mq
	}

	disj := bleve.NewDisjunctionQuery()
	for field, boost := range FieldBoosts {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetBoost(boost)
		disj.AddQuery(mq)
	}
	return disj
}

func idsForPath(idx bleve.Index, path string) ([]string, error) {
	q := bleve.NewMatchQuery(path)
	q.SetField("path")
	req := bleve.NewSearchRequestOptions(q, 10000, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
