package ranking

import (
	"math"
	"testing"
)

const epsilon = 1e-12

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestRRFTerm(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		k      int
		rank   int
		want   float64
	}{
		{"first rank", 1.0, 60, 1, 1.0 / 61},
		{"weighted", 2.0, 60, 4, 2.0 / 64},
		{"absent rank", 1.0, 60, 0, 0},
		{"negative rank treated as absent", 1.0, 60, -3, 0},
		{"zero weight", 0, 60, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RRFTerm(tt.weight, tt.k, tt.rank); !almostEqual(got, tt.want) {
				t.Errorf("RRFTerm() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFusedScore_MultiplicativeAuthority(t *testing.T) {
	w := HybridWeights{FTSWeight: 1, VectorWeight: 1, PagerankWeight: 0.5, RRFK: 60}

	base := FusedScore(w, 1, 3, 0)
	modulated := FusedScore(w, 1, 3, 0.2)

	if !almostEqual(modulated, base*1.1) {
		t.Errorf("expected authority to scale score by 1.1: base=%v modulated=%v", base, modulated)
	}
}

func TestFusedScore_NonFiniteAuthority(t *testing.T) {
	w := DefaultHybridWeights()
	for _, a := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -2} {
		got := FusedScore(w, 1, 1, a)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("score must be finite for authority %v, got %v", a, got)
		}
		if !almostEqual(got, FusedScore(w, 1, 1, 0)) {
			t.Errorf("authority %v should be treated as 0", a)
		}
	}
}

func TestLexicalScore_Additive(t *testing.T) {
	w := LexicalWeights{FTSWeight: 1.0, PagerankWeight: 1.0}
	if got := LexicalScore(w, 0.3, 0.2); !almostEqual(got, 0.5) {
		t.Errorf("LexicalScore() = %v, want 0.5", got)
	}

	w = LexicalWeights{FTSWeight: 2.0, PagerankWeight: 0.5}
	if got := LexicalScore(w, 0.25, 0.4); !almostEqual(got, 0.7) {
		t.Errorf("LexicalScore() = %v, want 0.7", got)
	}
}

// Two documents: A lexical#1 vector#3 authority 0.2, B lexical#5 vector#1 authority 0.
func TestFuse_Scenario(t *testing.T) {
	w := HybridWeights{FTSWeight: 1.0, VectorWeight: 1.0, PagerankWeight: 0.5, RRFK: 60}

	lexical := []Candidate{
		{DocumentID: 1, URL: "https://a.example", Authority: 0.2, Rank: 1},
		{DocumentID: 10, URL: "https://x.example", Rank: 2},
		{DocumentID: 11, URL: "https://y.example", Rank: 3},
		{DocumentID: 12, URL: "https://z.example", Rank: 4},
		{DocumentID: 2, URL: "https://b.example", Authority: 0, Rank: 5},
	}
	vector := []Candidate{
		{DocumentID: 2, URL: "https://b.example", Authority: 0, Rank: 1},
		{DocumentID: 20, URL: "https://v.example", Rank: 2},
		{DocumentID: 1, URL: "https://a.example", Authority: 0.2, Rank: 3},
	}

	got := Fuse(w, lexical, vector, ResultLimit)

	wantA := (1.0/61 + 1.0/63) * 1.1
	wantB := 1.0/65 + 1.0/61

	scores := map[int64]Scored{}
	for _, s := range got {
		scores[s.DocumentID] = s
	}
	if !almostEqual(scores[1].Score, wantA) {
		t.Errorf("document A score = %v, want %v", scores[1].Score, wantA)
	}
	if !almostEqual(scores[2].Score, wantB) {
		t.Errorf("document B score = %v, want %v", scores[2].Score, wantB)
	}
	if scores[1].LexicalRank != 1 || scores[1].VectorRank != 3 {
		t.Errorf("document A ranks = %d/%d, want 1/3", scores[1].LexicalRank, scores[1].VectorRank)
	}
	if got[0].DocumentID != 1 || got[1].DocumentID != 2 {
		t.Errorf("expected A then B at the top, got %d then %d", got[0].DocumentID, got[1].DocumentID)
	}
	if len(got) != 6 {
		t.Errorf("expected union of 6 documents, got %d", len(got))
	}

	// Documents present in a single list only get that list's term.
	if !almostEqual(scores[20].Score, 1.0/62) {
		t.Errorf("vector-only document score = %v, want %v", scores[20].Score, 1.0/62)
	}
	if scores[20].LexicalRank != 0 {
		t.Errorf("vector-only document should have no lexical rank")
	}
}

func TestFuse_SortedDescendingAndTruncated(t *testing.T) {
	w := DefaultHybridWeights()

	var lexical, vector []Candidate
	for i := 1; i <= CandidateLimit; i++ {
		lexical = append(lexical, Candidate{DocumentID: int64(i), Rank: i})
		vector = append(vector, Candidate{DocumentID: int64(1000 + i), Rank: i})
	}

	got := Fuse(w, lexical, vector, ResultLimit)
	if len(got) != ResultLimit {
		t.Fatalf("expected %d results, got %d", ResultLimit, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("results not sorted at %d: %v > %v", i, got[i].Score, got[i-1].Score)
		}
	}
}

func TestScores_OverflowStaysFiniteAndOrdered(t *testing.T) {
	hybrid := HybridWeights{FTSWeight: 10, VectorWeight: 10, PagerankWeight: 10, RRFK: 1}
	fused := Fuse(hybrid, []Candidate{
		{DocumentID: 1, Rank: 1, Authority: 0.3},
		{DocumentID: 2, Rank: 2, Authority: math.MaxFloat64},
		{DocumentID: 3, Rank: 3},
	}, nil, ResultLimit)

	lexical := RankLexicalOnly(LexicalWeights{FTSWeight: 10, PagerankWeight: 10}, []Candidate{
		{DocumentID: 1, Rank: 1, Relevance: 0.9},
		{DocumentID: 2, Rank: 2, Relevance: math.MaxFloat64, Authority: math.MaxFloat64},
		{DocumentID: 3, Rank: 3, Relevance: 0.1},
	}, ResultLimit)

	for name, got := range map[string][]Scored{"fused": fused, "lexical": lexical} {
		if len(got) != 3 || got[0].DocumentID != 2 {
			t.Fatalf("%s: overflowing document should rank first, got %+v", name, got)
		}
		for i, s := range got {
			if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
				t.Errorf("%s: score %d is not finite: %v", name, i, s.Score)
			}
			if i > 0 && s.Score > got[i-1].Score {
				t.Errorf("%s: not descending at %d: %v > %v", name, i, s.Score, got[i-1].Score)
			}
		}
		if got[0].Score != math.MaxFloat64 {
			t.Errorf("%s: overflowed score = %v, want math.MaxFloat64", name, got[0].Score)
		}
	}
}

func TestFuse_Deterministic(t *testing.T) {
	w := DefaultHybridWeights()
	// Identical ranks produce identical scores; ties resolve by document id.
	lexical := []Candidate{{DocumentID: 9, Rank: 1}, {DocumentID: 3, Rank: 2}}
	vector := []Candidate{{DocumentID: 3, Rank: 1}, {DocumentID: 9, Rank: 2}}

	first := Fuse(w, lexical, vector, ResultLimit)
	for i := 0; i < 10; i++ {
		again := Fuse(w, lexical, vector, ResultLimit)
		for j := range first {
			if first[j].DocumentID != again[j].DocumentID || first[j].Score != again[j].Score {
				t.Fatalf("run %d differs at %d", i, j)
			}
		}
	}
	if first[0].DocumentID != 3 {
		t.Errorf("expected tie broken by lowest id, got %d first", first[0].DocumentID)
	}
}

func TestFuse_PureVectorWeightFollowsVectorOrder(t *testing.T) {
	lexical := []Candidate{
		{DocumentID: 1, Authority: 0.3, Rank: 1},
		{DocumentID: 2, Authority: 0.3, Rank: 2},
		{DocumentID: 3, Authority: 0.3, Rank: 3},
	}
	vector := []Candidate{
		{DocumentID: 3, Authority: 0.3, Rank: 1},
		{DocumentID: 1, Authority: 0.3, Rank: 2},
		{DocumentID: 2, Authority: 0.3, Rank: 3},
	}

	balanced := DefaultHybridWeights()
	got := Fuse(balanced, lexical, vector, ResultLimit)
	if got[0].DocumentID == 3 && got[1].DocumentID == 1 && got[2].DocumentID == 2 {
		t.Fatalf("balanced weights should not already match vector order")
	}

	vectorOnly := balanced
	vectorOnly.FTSWeight = 0
	vectorOnly.VectorWeight = balanced.VectorWeight * 2

	got = Fuse(vectorOnly, lexical, vector, ResultLimit)
	want := []int64{3, 1, 2}
	for i, id := range want {
		if got[i].DocumentID != id {
			t.Errorf("position %d: got document %d, want %d", i, got[i].DocumentID, id)
		}
	}
}

func TestRankLexicalOnly(t *testing.T) {
	w := LexicalWeights{FTSWeight: 1.0, PagerankWeight: 1.0}
	candidates := []Candidate{
		{DocumentID: 1, Relevance: 0.9, Authority: 0.0, Rank: 1},
		{DocumentID: 2, Relevance: 0.5, Authority: 0.6, Rank: 2},
		{DocumentID: 3, Relevance: 0.1, Authority: math.NaN(), Rank: 3},
	}

	got := RankLexicalOnly(w, candidates, ResultLimit)

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].DocumentID != 2 || !almostEqual(got[0].Score, 1.1) {
		t.Errorf("expected document 2 first with 1.1, got %d with %v", got[0].DocumentID, got[0].Score)
	}
	if got[1].DocumentID != 1 || !almostEqual(got[1].Score, 0.9) {
		t.Errorf("expected document 1 second with 0.9, got %d with %v", got[1].DocumentID, got[1].Score)
	}
	if !almostEqual(got[2].Score, 0.1) {
		t.Errorf("NaN authority should contribute 0, got %v", got[2].Score)
	}
	if got[0].VectorRank != 0 {
		t.Errorf("lexical-only results carry no vector rank")
	}
}

func TestRankLexicalOnly_Truncates(t *testing.T) {
	var candidates []Candidate
	for i := 1; i <= 50; i++ {
		candidates = append(candidates, Candidate{DocumentID: int64(i), Relevance: float64(i), Rank: i})
	}
	got := RankLexicalOnly(DefaultLexicalWeights(), candidates, ResultLimit)
	if len(got) != ResultLimit {
		t.Fatalf("expected %d results, got %d", ResultLimit, len(got))
	}
	if got[0].DocumentID != 50 {
		t.Errorf("expected highest relevance first, got %d", got[0].DocumentID)
	}
}
