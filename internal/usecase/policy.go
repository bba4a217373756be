package usecase

// Policy holds the acceptance thresholds. Both are on a 0-100 scale.
type Policy struct {
	BiometricThreshold float64
	DocumentThreshold  float64
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{BiometricThreshold: 90.0, DocumentThreshold: 60.0}
}

// PathScore is the contribution of one evidence path. A path that was not
// exercised is ignored; a failed path is exercised with score 0.
type PathScore struct {
	Exercised bool
	Score     float64
}

// Decide accepts when any exercised path reaches its threshold.
func (p Policy) Decide(biometric, document PathScore) bool {
	if biometric.Exercised && biometric.Score >= p.BiometricThreshold {
		return true
	}
	if document.Exercised && document.Score >= p.DocumentThreshold {
		return true
	}
	return false
}
