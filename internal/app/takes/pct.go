package takes

import "math"

// ComputePct turns raw side counts into display percentages with a +1 offset
// on each side, so an untouched prop reads 50/50 and a single early vote
// never renders 100/0. Each side rounds independently; the pair may sum to
// 99, 100 or 101 and that is accepted, not corrected.
func ComputePct(countA, countB int64) (pctA, pctB int) {
	a := float64(countA + 1)
	b := float64(countB + 1)
	total := a + b
	pctA = int(math.Round(a / total * 100))
	pctB = int(math.Round(b / total * 100))
	return pctA, pctB
}
