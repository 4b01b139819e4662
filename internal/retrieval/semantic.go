package retrieval

import (
	"context"

	"github.com/signalridge/cruxe/internal/ids"
)

// clampSemanticLimit computes semantic_limit =
// clamp(limit*semantic_limit_multiplier, 20, 1000).
func clampSemanticLimit(limit int, multiplier float64) int {
	if multiplier <= 0 {
		multiplier = 4.0
	}
	n := int(float64(limit) * multiplier)
	if n < 20 {
		n = 20
	}
	if n > 1000 {
		n = 1000
	}
	return n
}

// blendSemantic is the semantic half of the pipeline: embed the query,
// run an ANN search over the project's (project, ref) vector scope,
// convert matches into Results with a provenance of "semantic" (or
// "hybrid" where a lexical result for the same result_id already exists),
// then RRF-fuse the semantic ranking into the existing lexical list
// weighted by semantic_ratio / (1 - semantic_ratio) per the channel-level
// blend the spec describes. out receives the updated, re-sorted slice.
func (p *Pipeline) blendSemantic(ctx context.Context, req Request, lexical []Result, resp *Response, out *[]Result) error {
	semLimit := clampSemanticLimit(req.Limit, req.Config.SemanticLimitMultiplier)

	vecs, err := p.Embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		return err
	}

	matches, err := p.Vectors.Nearest(ctx, p.ProjectID, req.Ref, vecs[0], semLimit)
	if err != nil {
		return err
	}

	resp.SemanticTriggered = true
	resp.SemanticRatioUsed = req.Config.SemanticRatio
	if resp.Debug == nil && req.Config.RankingExplainLevel == "full" {
		resp.Debug = &DebugInfo{ChannelContributions: map[string][]ChannelContribution{}}
	}
	if resp.Debug != nil {
		resp.Debug.SemanticCandidates = len(matches)
	}
	if len(matches) >= semLimit {
		resp.SemanticBudgetExhausted = true
	}

	byID := make(map[string]Result, len(lexical)+len(matches))
	order := make([]string, 0, len(lexical)+len(matches))
	lexicalWeight := 1 - req.Config.SemanticRatio
	semanticWeight := req.Config.SemanticRatio

	for _, r := range lexical {
		r.Score *= lexicalWeight
		byID[r.ResultID] = r
		order = append(order, r.ResultID)
	}

	for rank, m := range matches {
		resultType := "symbol"
		kind, name, qualifiedName, signature, visibility, symbolID := "", "", "", "", "", ""
		if m.SymbolStableID == "" {
			resultType = "snippet"
			kind = "snippet"
		} else if p.Store != nil {
			// Join on symbol_stable_id against the symbols table so a
			// pure-semantic hit carries the same identity fields a
			// lexical hit would: without this, the post-blend role
			// filter would drop every semantic-only result, and the
			// result_id below would never collide with its lexical twin.
			if sym, serr := p.Store.GetSymbolByStableID(ctx, p.ProjectID, req.Ref, m.SymbolStableID); serr == nil {
				kind = sym.Kind
				name = sym.Name
				qualifiedName = sym.QualifiedName
				signature = sym.Signature
				visibility = sym.Visibility
				symbolID = sym.SymbolID
			}
		}
		resultID := ids.ResultID(resultType, req.Repo, req.Ref, m.Path, m.LineStart, m.LineEnd,
			kind, name, qualifiedName, m.Language, m.SymbolStableID)
		semScore := semanticWeight * (1.0 / (RRFConstant + float64(rank+1)))
		if existing, ok := byID[resultID]; ok {
			existing.Score += semScore
			existing.Provenance = "hybrid"
			if existing.ChannelRRF == nil {
				existing.ChannelRRF = map[string]float64{}
			}
			existing.ChannelRRF["semantic"] = semScore
			byID[resultID] = existing
		} else {
			r := Result{
				ResultID:       resultID,
				ResultType:     resultType,
				Repo:           req.Repo,
				Ref:            req.Ref,
				Path:           m.Path,
				LineStart:      m.LineStart,
				LineEnd:        m.LineEnd,
				Kind:           kind,
				Name:           name,
				QualifiedName:  qualifiedName,
				Signature:      signature,
				Visibility:     visibility,
				Language:       m.Language,
				SymbolID:       symbolID,
				SymbolStableID: m.SymbolStableID,
				Content:        m.SnippetText,
				Score:          semScore,
				Provenance:     "semantic",
				ChannelRRF:     map[string]float64{"semantic": semScore},
			}
			byID[resultID] = r
			order = append(order, resultID)
		}
	}

	merged := make([]Result, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}

	sortByScoreDesc(merged)
	*out = merged
	return nil
}
