// Package pipeline contains the asynchronous memory path: Capture pushes
// user turns onto the capture stream without blocking the request, and
// Worker consumes the stream, scores each turn for surprise, and stores
// the surprising ones in the vector memory.
package pipeline

import "math"

// Default scoring parameters.
const (
	DefaultPerplexityWeight = 0.6
	DefaultDistanceWeight   = 0.4
	DefaultThreshold        = 0.7

	// perplexityNormDivisor maps ln(perplexity+1) onto [0,1]; e^5-1 ≈ 147
	// perplexity saturates the scale.
	perplexityNormDivisor = 5.0
)

// NormalizePerplexity maps a raw perplexity onto [0,1] with a log scale,
// saturating at 1.
func NormalizePerplexity(p float64) float64 {
	if p < 0 {
		p = 0
	}
	return math.Min(1, math.Log(p+1)/perplexityNormDivisor)
}

// SurpriseScore combines normalized perplexity and nearest-neighbor cosine
// distance into one score on [0,1]. Both inputs are clamped to [0,1] first;
// cosine distance can reach 2 for opposed vectors but anything past 1 is
// already maximally novel.
func SurpriseScore(normPerplexity, distance, perplexityWeight, distanceWeight float64) float64 {
	return perplexityWeight*clamp01(normPerplexity) + distanceWeight*clamp01(distance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
