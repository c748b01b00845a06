package generation

import (
	"math"
	"strconv"
	"strings"
)

// AspectRatio is one of the fixed ratio tokens accepted by the providers.
type AspectRatio string

const (
	Aspect16x9 AspectRatio = "16:9"
	Aspect9x16 AspectRatio = "9:16"
	Aspect1x1  AspectRatio = "1:1"
	Aspect4x3  AspectRatio = "4:3"
	Aspect3x4  AspectRatio = "3:4"
	Aspect4x5  AspectRatio = "4:5"
)

// DefaultAspect is the silent fallback for unrecognizable inputs. The
// fallback rather than an error is deliberate policy carried over from the
// original behavior.
const DefaultAspect = Aspect9x16

var aspectTokens = map[string]AspectRatio{
	"16:9":      Aspect16x9,
	"16_9":      Aspect16x9,
	"landscape": Aspect16x9,
	"9:16":      Aspect9x16,
	"9_16":      Aspect9x16,
	"portrait":  Aspect9x16,
	"1:1":       Aspect1x1,
	"1_1":       Aspect1x1,
	"square":    Aspect1x1,
	"4:3":       Aspect4x3,
	"4_3":       Aspect4x3,
	"3:4":       Aspect3x4,
	"3_4":       Aspect3x4,
	"4:5":       Aspect4x5,
	"4_5":       Aspect4x5,
}

// aspectValues is ordered widest to narrowest; ties between two equally
// close ratios resolve to the wider one.
var aspectValues = []struct {
	ratio AspectRatio
	value float64
}{
	{Aspect16x9, 16.0 / 9.0},
	{Aspect4x3, 4.0 / 3.0},
	{Aspect1x1, 1.0},
	{Aspect4x5, 4.0 / 5.0},
	{Aspect3x4, 3.0 / 4.0},
	{Aspect9x16, 9.0 / 16.0},
}

// NormalizeAspect maps a free-form ratio token onto the fixed table. The
// result is always one of the six supported ratios, never empty.
func NormalizeAspect(token string) AspectRatio {
	token = strings.ToLower(strings.TrimSpace(token))
	if ratio, ok := aspectTokens[token]; ok {
		return ratio
	}
	if w, h, ok := splitRatio(token); ok {
		return AspectFromDimensions(w, h)
	}
	return DefaultAspect
}

// AspectFromDimensions infers the closest supported ratio from a pixel pair.
func AspectFromDimensions(width, height int) AspectRatio {
	if width <= 0 || height <= 0 {
		return DefaultAspect
	}
	value := float64(width) / float64(height)
	best := DefaultAspect
	bestDelta := math.MaxFloat64
	for _, entry := range aspectValues {
		delta := math.Abs(entry.value - value)
		if delta < bestDelta {
			best = entry.ratio
			bestDelta = delta
		}
	}
	return best
}

// Dimensions returns representative pixel dimensions for the ratio.
func (a AspectRatio) Dimensions() (int, int) {
	switch a {
	case Aspect16x9:
		return 1920, 1080
	case Aspect9x16:
		return 1080, 1920
	case Aspect4x3:
		return 1280, 960
	case Aspect3x4:
		return 960, 1280
	case Aspect4x5:
		return 1024, 1280
	default:
		return 1024, 1024
	}
}

func splitRatio(token string) (int, int, bool) {
	for _, sep := range []string{":", "x", "_"} {
		parts := strings.Split(token, sep)
		if len(parts) != 2 {
			continue
		}
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW == nil && errH == nil && w > 0 && h > 0 {
			return w, h, true
		}
	}
	return 0, 0, false
}
