// Package similarity implements the suggest engine: key and
// tag-set similarity scoring over a candidate set pulled from the
// denormalized tag index, with three-tier duplicate detection.
package similarity

import "strings"

// Tier classifies a composite score into the three detection bands.
type Tier int

const (
	TierNone Tier = iota
	TierGentleNudge
	TierHardBlock
	TierNearDuplicate
)

func (t Tier) String() string {
	switch t {
	case TierGentleNudge:
		return "tier1_gentle_nudge"
	case TierHardBlock:
		return "tier2_hard_block"
	case TierNearDuplicate:
		return "tier3_near_duplicate"
	default:
		return "none"
	}
}

// Candidate is one existing decision considered against a new one.
type Candidate struct {
	Key  string
	Tags []string
}

// Score is the full scoring breakdown for one candidate.
type Score struct {
	Candidate     Candidate
	KeySimilarity float64 // 0-20
	TagOverlap    float64 // 0-40
	Composite     float64 // KeySimilarity + TagOverlap
	Jaccard       float64 // 0-100, tag-set Jaccard, reported not scored
	Tier          Tier
	IsDuplicate   bool
}

// ScoreCandidate evaluates candidate against (key, tags), per the weighting in
// key-similarity capped at 20 (exact match scores 20 outright;
// otherwise common-prefix plus Levenshtein-normalized closeness), tag
// overlap at 10 points per shared tag capped at 40.
func ScoreCandidate(key string, tags []string, candidate Candidate) Score {
	keySim := keySimilarity(key, candidate.Key)
	tagOverlap := tagOverlapScore(tags, candidate.Tags)
	composite := keySim + tagOverlap
	jac := jaccardPercent(tags, candidate.Tags)

	s := Score{
		Candidate: candidate, KeySimilarity: keySim, TagOverlap: tagOverlap,
		Composite: composite, Jaccard: jac,
	}
	s.Tier, s.IsDuplicate = classify(composite)
	return s
}

// RankCandidates scores every candidate and returns them sorted by
// composite score descending.
func RankCandidates(key string, tags []string, candidates []Candidate) []Score {
	out := make([]Score, len(candidates))
	for i, c := range candidates {
		out[i] = ScoreCandidate(key, tags, c)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Composite > out[j-1].Composite; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// classify maps a composite score to its tier per the authoritative test
// literals named in the open question: <35 none, 35-44 tier1, 45-59
// tier2, >=60 tier3 (is_duplicate=true only at tier3).
func classify(composite float64) (Tier, bool) {
	switch {
	case composite >= 60:
		return TierNearDuplicate, true
	case composite >= 45:
		return TierHardBlock, false
	case composite >= 35:
		return TierGentleNudge, false
	default:
		return TierNone, false
	}
}

func keySimilarity(a, b string) float64 {
	if a == b {
		return 20
	}
	prefixScore := float64(2*commonPrefixLen(a, b)) // capped below
	if prefixScore > 10 {
		prefixScore = 10
	}
	closeness := levenshteinCloseness(a, b) * 10
	total := prefixScore + closeness
	if total > 20 {
		total = 20
	}
	return total
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// levenshteinCloseness returns (1 - dist/max(|a|,|b|)), in [0,1].
func levenshteinCloseness(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// levenshtein computes edit distance via the standard two-row DP; no
// third-party library in the pack covers this at this scale, so it is
// hand-rolled against the stdlib only.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func tagOverlapScore(a, b []string) float64 {
	shared := sharedCount(a, b)
	score := float64(shared) * 10
	if score > 40 {
		score = 40
	}
	return score
}

func sharedCount(a, b []string) int {
	setB := toSet(b)
	n := 0
	for _, t := range a {
		if setB[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

// jaccardPercent reports tag-set overlap as a 0-100 metric, grounded on
// the same intersection-over-union idiom used for spec-duplicate
// detection elsewhere in this codebase's ancestry.
func jaccardPercent(a, b []string) float64 {
	setA, setB := toSet(a), toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union) * 100
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[strings.ToLower(s)] = true
	}
	return m
}
