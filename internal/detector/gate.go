package detector

// DefaultThreshold is the minimum confidence for a detection to be captured.
const DefaultThreshold = 0.5

// Accepts reports whether a detection result is acceptable for capture:
// a face must be present and its confidence must reach threshold.
func Accepts(r Result, threshold float64) bool {
	if !r.Present() {
		return false
	}
	return r.Face.Confidence >= threshold
}
