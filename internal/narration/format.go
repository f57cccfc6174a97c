package narration

import (
	"fmt"
	"math"
)

// FormatTime renders seconds as M:SS. Negative and non-finite values render as 0:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "0:00"
	}
	total := int64(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Progress returns current/duration as a percentage clamped to [0, 100].
// It is exactly 0 when duration is zero, NaN or infinite.
func Progress(current, duration float64) float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0
	}
	p := current / duration * 100
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// finite substitutes 0 for NaN and infinite values
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
