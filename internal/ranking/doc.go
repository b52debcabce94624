// Package ranking holds the scoring configuration and the score fusion
// arithmetic used by search.
//
// Two combination formulas exist and they are intentionally different:
//
//	// fused path, a query vector is available
//	fused := fts/(k+lexicalRank) + vector/(k+vectorRank)
//	score := fused * (1 + pagerank*authority)
//
//	// lexical-only path, the embedding could not be produced
//	score := fts*relevance + pagerank*authority
//
// A rank of zero means the document is absent from that list and the term
// contributes nothing. Authority is modulated multiplicatively on the fused
// path and added on the lexical path.
//
// Basic Usage:
//
//	cfg, err := ranking.NewScoringConfig(hybrid, lexical)
//	if err != nil {
//		return err
//	}
//	top := ranking.Fuse(cfg.Hybrid, lexicalCandidates, vectorCandidates, ranking.ResultLimit)
package ranking
