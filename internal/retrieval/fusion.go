// Package retrieval runs hybrid retrieval: concurrent semantic sub-queries
// per collection plus a lexical query, fused into one ranked list.
package retrieval

import (
	"sort"
)

// candidate accumulates a chunk's scores across sub-queries before fusion.
type candidate struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	// set when the candidate came from a semantic sub-query, which carries
	// the ordinal; lexical-only candidates resolve it from storage.
	hasOrdinal bool
	Semantic   float64
	Lexical    float64
	Score      float64
}

// normalize rescales scores to [0,1] per the configured policy. "max"
// divides by the top score; anything else is min-max.
func normalize(scores map[string]float64, policy string) map[string]float64 {
	if policy == "max" {
		return maxNormalize(scores)
	}
	return minMaxNormalize(scores)
}

// minMaxNormalize rescales scores to [0,1]. A degenerate list (all scores
// equal) normalizes to 1 so a single strong hit is not zeroed out.
func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	normalized := make(map[string]float64, len(scores))
	for id, s := range scores {
		if hi == lo {
			normalized[id] = 1
		} else {
			normalized[id] = (s - lo) / (hi - lo)
		}
	}
	return normalized
}

// maxNormalize divides every score by the maximum, preserving relative
// spread below the top hit. Non-positive maxima normalize to 1.
func maxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	var hi float64
	for _, s := range scores {
		if s > hi {
			hi = s
		}
	}
	normalized := make(map[string]float64, len(scores))
	for id, s := range scores {
		if hi <= 0 {
			normalized[id] = 1
		} else {
			normalized[id] = s / hi
		}
	}
	return normalized
}

// fuse merges normalized semantic and lexical scores into weighted
// candidates. A chunk present on one side only contributes zero for the
// other.
func fuse(candidates map[string]*candidate, semantic, lexical map[string]float64, semanticWeight, lexicalWeight float64) []*candidate {
	out := make([]*candidate, 0, len(candidates))
	for id, c := range candidates {
		c.Semantic = semantic[id]
		c.Lexical = lexical[id]
		c.Score = semanticWeight*c.Semantic + lexicalWeight*c.Lexical
		out = append(out, c)
	}
	return out
}

// sortCandidates orders by descending fused score, breaking ties by the
// earliest ordinal, then chunk id for full determinism.
func sortCandidates(out []*candidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ChunkID < out[j].ChunkID
	})
}
