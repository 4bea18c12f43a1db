package llm

import "math"

// Repetition kill-switch thresholds. Outputs shorter than minDegenerateLen
// are never flagged; short answers legitimately repeat n-grams.
const (
	repetitionNgram     = 4
	repetitionThreshold = 0.90 // flagged when > this fraction of n-grams repeat
	entropyThreshold    = 1.0  // bits per rune; flagged when below
	minDegenerateLen    = 200  // runes
)

// RepetitionRatio returns the fraction of overlapping rune n-grams that are
// duplicates of an earlier n-gram. A healthy text scores well under 0.5; a
// run of one repeated character scores close to 1.0.
func RepetitionRatio(s string) float64 {
	runes := []rune(s)
	total := len(runes) - repetitionNgram + 1
	if total <= 0 {
		return 0
	}
	seen := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		seen[string(runes[i:i+repetitionNgram])] = true
	}
	return 1 - float64(len(seen))/float64(total)
}

// Entropy returns the Shannon entropy of the rune distribution in bits.
func Entropy(s string) float64 {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range runes {
		freq[r]++
	}
	var h float64
	n := float64(len(runes))
	for _, c := range freq {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// LooksDegenerate reports whether the text is pathological model output
// (runaway repetition or near-constant content). The exact thresholds are
// tuning parameters; both signals must be checked because a long cycle beats
// the entropy test and a large alphabet beats the n-gram test.
func LooksDegenerate(s string) bool {
	if len([]rune(s)) < minDegenerateLen {
		return false
	}
	return RepetitionRatio(s) > repetitionThreshold || Entropy(s) < entropyThreshold
}

// TruncateDegenerate trims pathological output to a short prefix so the
// garbage never propagates into the message store or the user's terminal.
func TruncateDegenerate(s string) string {
	const keep = 400
	runes := []rune(s)
	if len(runes) <= keep {
		return s
	}
	return string(runes[:keep]) + "\n…[output truncated: repetitive model output]"
}
