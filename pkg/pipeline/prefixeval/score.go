package prefixeval

import (
	"math"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	porterstemmer "github.com/reiver/go-porterstemmer"
)

// RougeL returns the ROUGE-L F-measure between reference and candidate.
// Tokens are the lowercased ASCII letter/digit runs of the text, and
// tokens longer than three characters are Porter-stemmed, so scores line
// up with rouge_score's RougeScorer(["rougeL"], use_stemmer=True). Other
// characters, including non-ASCII letters, separate tokens.
func RougeL(reference, candidate string) float64 {
	ref, cand := words(reference), words(candidate)
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	lcs := lcsLength(ref, cand)
	if lcs == 0 {
		return 0
	}
	precision := float64(lcs) / float64(len(cand))
	recall := float64(lcs) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

func words(s string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for i, tok := range tokens {
		if len(tok) > 3 {
			tokens[i] = porterstemmer.StemString(tok)
		}
	}
	return tokens
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// SequenceRatio is the character-level similarity 2*M/T of Ratcliff and
// Obershelp, as computed by difflib's SequenceMatcher.
func SequenceRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Stats summarizes one score column.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Max   float64 `json:"max"`
}

// Describe computes count, mean, sample standard deviation, min, the
// quartiles (linear interpolation) and max. Std stays zero for fewer than
// two values, and an empty input yields the zero Stats, so the result
// always encodes as JSON.
func Describe(values []float64) Stats {
	s := Stats{Count: len(values)}
	if len(values) == 0 {
		return s
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(len(sorted))

	if len(sorted) > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - s.Mean
			sq += d * d
		}
		s.Std = math.Sqrt(sq / float64(len(sorted)-1))
	}

	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]
	s.P25 = quantile(sorted, 0.25)
	s.P50 = quantile(sorted, 0.5)
	s.P75 = quantile(sorted, 0.75)
	return s
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
