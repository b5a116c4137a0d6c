package signatures

// Confidence level constants for standardized scoring
const (
	ConfidenceDefinite = 1.00 // Self-validating framing (e.g., chained YMSG headers)
	ConfidenceVeryHigh = 0.95 // Strong indicators
	ConfidenceHigh     = 0.85 // Multiple indicators match
	ConfidenceMedium   = 0.70 // Single strong indicator
	ConfidenceLow      = 0.50 // Weak heuristic
)

// Indicator represents a single piece of evidence for protocol detection
type Indicator struct {
	Name       string
	Weight     float64 // 0.0 - 1.0
	Confidence float64 // 0.0 - 1.0
}

// ScoreDetection calculates overall confidence as the weighted average of indicators
func ScoreDetection(indicators []Indicator) float64 {
	totalWeight := 0.0
	weightedSum := 0.0
	for _, ind := range indicators {
		totalWeight += ind.Weight
		weightedSum += ind.Weight * ind.Confidence
	}
	if totalWeight == 0.0 {
		return 0.0
	}
	return clamp(weightedSum / totalWeight)
}

// KindConfidence maps a match kind to the confidence reported with it
func KindConfidence(kind MatchKind) float64 {
	if kind == MatchPrimary {
		return ConfidenceVeryHigh
	}
	return ConfidenceMedium
}

// PortFactor boosts confidence by 20% when either port is standard and reduces it by 20%
// otherwise.
func PortFactor(srcPort, dstPort uint16, standardPorts []uint16) float64 {
	for _, p := range standardPorts {
		if p == srcPort || p == dstPort {
			return 1.2
		}
	}
	return 0.8
}

// AdjustConfidence multiplies confidence by factor and clamps the result to [0, 1]
func AdjustConfidence(confidence, factor float64) float64 {
	return clamp(confidence * factor)
}

func clamp(v float64) float64 {
	switch {
	case v > 1.0:
		return 1.0
	case v < 0.0:
		return 0.0
	default:
		return v
	}
}
