package metrics

import (
	"fmt"
	"math"

	"github.com/rawblock/dao-analytics/pkg/models"
)

// EntropyFunc names how voting bloc entropy is measured.
type EntropyFunc string

const (
	Shannon    EntropyFunc = "shannon"
	MinEntropy EntropyFunc = "min"
)

// ParseEntropy validates an entropy function name. Empty means shannon.
func ParseEntropy(name string) (EntropyFunc, error) {
	switch f := EntropyFunc(name); f {
	case "":
		return Shannon, nil
	case Shannon, MinEntropy:
		return f, nil
	default:
		return "", fmt.Errorf("unknown entropy function %q", name)
	}
}

// VotingBlocEntropy measures how evenly voters spread over the discovered
// blocs, in bits. Noise voters do not form a bloc and are left out. A
// labeling with no bloc yields NaN.
func VotingBlocEntropy(labels []int, fn EntropyFunc) float64 {
	counts := make(map[int]int)
	total := 0
	for _, l := range labels {
		if l == models.NoiseLabel {
			continue
		}
		counts[l]++
		total++
	}
	if total == 0 {
		return math.NaN()
	}

	if fn == MinEntropy {
		largest := 0
		for _, c := range counts {
			largest = max(largest, c)
		}
		return -math.Log2(float64(largest) / float64(total))
	}

	var ent float64
	for _, count := range counts {
		p := float64(count) / float64(total)
		ent -= p * math.Log2(p)
	}
	return ent
}
