package retrieval

// rrfK is the Reciprocal Rank Fusion smoothing constant.
const rrfK = 60

// rrfScore is the RRF contribution of a 1-based rank: 1/(k+rank).
func rrfScore(rank int) float64 {
	return 1.0 / float64(rrfK+rank)
}

// fuseLexical is the score a candidate ends up with after a lexical hit
// at the given 1-based rank. A document seen only lexically scores
// rrfScore(rank). A document that also surfaced in the vector results
// has its similarity score replaced outright by rrfScore(rank) twice —
// the lexical rank is counted for both lists. The formula lives here,
// alone, so it can be changed in one place; TestFuseLexicalPinsTieBreak
// pins the current behavior.
func fuseLexical(hadVector bool, lexicalRank int) float64 {
	if hadVector {
		return rrfScore(lexicalRank) + rrfScore(lexicalRank)
	}
	return rrfScore(lexicalRank)
}
