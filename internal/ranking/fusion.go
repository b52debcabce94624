package ranking

import (
	"math"
	"sort"
)

// Candidate is one row of a ranked candidate list as returned by the index.
type Candidate struct {
	DocumentID  int64
	URL         string
	Title       *string
	Description *string
	Authority   float64 // Externally maintained authority score, 0 when absent
	Rank        int     // 1-based position in the list it came from
	Relevance   float64 // Lexical relevance (ts_rank_cd); unused for vector candidates
}

// Scored is a candidate with its final score.
type Scored struct {
	Candidate
	LexicalRank int // 0 when absent from the lexical list
	VectorRank  int // 0 when absent from the vector list
	Score       float64
}

// RRFTerm returns weight / (k + rank). An absent rank (<= 0) contributes 0.
func RRFTerm(weight float64, k, rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / float64(k+rank)
}

// FusedScore combines lexical and vector ranks with weighted reciprocal rank
// fusion and modulates the result multiplicatively by authority.
func FusedScore(w HybridWeights, lexicalRank, vectorRank int, authority float64) float64 {
	fused := RRFTerm(w.FTSWeight, w.RRFK, lexicalRank) + RRFTerm(w.VectorWeight, w.RRFK, vectorRank)
	if fused == 0 {
		return 0
	}
	return bound(fused * (1 + w.PagerankWeight*sanitize(authority)))
}

// LexicalScore combines relevance and authority additively.
func LexicalScore(w LexicalWeights, relevance, authority float64) float64 {
	return bound(w.FTSWeight*sanitize(relevance) + w.PagerankWeight*sanitize(authority))
}

// Fuse merges the lexical and vector lists by document id, scores each
// document present in at least one list and returns the top limit by score.
// Ranks are taken from the lists themselves; a list must be ordered best first
// with Rank set to its 1-based position.
func Fuse(w HybridWeights, lexical, vector []Candidate, limit int) []Scored {
	merged := make(map[int64]*Scored, len(lexical)+len(vector))
	order := make([]int64, 0, len(lexical)+len(vector))

	for _, c := range lexical {
		if _, ok := merged[c.DocumentID]; ok {
			continue
		}
		merged[c.DocumentID] = &Scored{Candidate: c, LexicalRank: c.Rank}
		order = append(order, c.DocumentID)
	}
	for _, c := range vector {
		if s, ok := merged[c.DocumentID]; ok {
			if s.VectorRank == 0 {
				s.VectorRank = c.Rank
			}
			continue
		}
		merged[c.DocumentID] = &Scored{Candidate: c, VectorRank: c.Rank}
		order = append(order, c.DocumentID)
	}

	out := make([]Scored, 0, len(merged))
	for _, id := range order {
		s := merged[id]
		s.Score = FusedScore(w, s.LexicalRank, s.VectorRank, s.Authority)
		out = append(out, *s)
	}
	return sortAndTruncate(out, limit)
}

// RankLexicalOnly scores candidates with the additive lexical formula and
// returns the top limit by score.
func RankLexicalOnly(w LexicalWeights, candidates []Candidate, limit int) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Scored{
			Candidate:   c,
			LexicalRank: c.Rank,
			Score:       LexicalScore(w, c.Relevance, c.Authority),
		})
	}
	return sortAndTruncate(out, limit)
}

// sortAndTruncate orders by score descending. Ties fall back to document id so
// the output is deterministic for identical inputs.
func sortAndTruncate(s []Scored, limit int) []Scored {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].DocumentID < s[j].DocumentID
	})
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}

// sanitize maps NaN, infinities and negatives to 0 so scores stay finite.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// bound keeps an overflowed score finite and ordered: infinities clamp to
// ±math.MaxFloat64 and NaN becomes 0.
func bound(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxFloat64:
		return math.MaxFloat64
	case v < -math.MaxFloat64:
		return -math.MaxFloat64
	}
	return v
}
