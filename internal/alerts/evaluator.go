package alerts

import (
	"math"

	"fogpulse/internal/models"
)

// Evaluate applies rules to a reading. Severity is the worst level any rule
// reaches; the score is the weighted sum of breach magnitudes relative to
// the warning threshold. Metrics without a rule are ignored, and a reading
// in which no metric has a rule is rejected with an InvalidReadingError.
//
// Evaluate is pure. The returned verdict carries no tier; the caller stamps
// the tier of the node before publishing it.
func Evaluate(reading models.MetricReading, rules RuleSet) (models.Verdict, error) {
	verdict := models.Verdict{
		NodeID:    reading.NodeID,
		Timestamp: reading.Timestamp,
		Severity:  models.SeverityNormal,
	}

	// Rules are visited in sorted order so the score sum is reproducible.
	recognized := 0
	for _, name := range rules.Metrics() {
		value, ok := reading.Metrics[name]
		if !ok {
			continue
		}
		rule := rules[name]
		recognized++

		sev := rule.Classify(value)
		if sev >= models.SeverityWarning {
			verdict.Triggered = append(verdict.Triggered, name)
		}
		verdict.Severity = models.MaxSeverity(verdict.Severity, sev)
		verdict.Score += rule.weight() * rule.Breach(value)
	}

	if recognized == 0 {
		return models.Verdict{}, &models.InvalidReadingError{
			NodeID: reading.NodeID,
			Reason: models.ErrNoRecognized,
		}
	}

	return verdict, nil
}

// Classify returns the severity of a single value under the rule.
func (r Rule) Classify(value float64) models.Severity {
	if r.direction() == Below {
		switch {
		case value < r.Critical:
			return models.SeverityCritical
		case value < r.Warning:
			return models.SeverityWarning
		}
		return models.SeverityNormal
	}

	switch {
	case value > r.Critical:
		return models.SeverityCritical
	case value > r.Warning:
		return models.SeverityWarning
	}
	return models.SeverityNormal
}

// Breach returns the normalized distance past the warning threshold,
// clamped at zero. A zero threshold yields the raw distance.
func (r Rule) Breach(value float64) float64 {
	delta := value - r.Warning
	if r.direction() == Below {
		delta = r.Warning - value
	}
	if delta <= 0 {
		return 0
	}
	if r.Warning == 0 {
		return delta
	}
	return delta / math.Abs(r.Warning)
}
