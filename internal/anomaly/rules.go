package anomaly

import (
	"fmt"
	"os"

	"github.com/radiusdt/vector-insights/internal/models"
	"gopkg.in/yaml.v3"
)

// Direction selects which movement a rule reacts to.
type Direction string

const (
	DirectionDrop     Direction = "drop"
	DirectionIncrease Direction = "increase"
	DirectionBoth     Direction = "both"
)

// Rule flags a period-over-period change of one metric. ThresholdPct is
// negative for drop rules.
type Rule struct {
	Metric       string          `yaml:"metric" json:"metric"`
	ThresholdPct float64         `yaml:"threshold" json:"threshold"`
	Severity     models.Severity `yaml:"severity" json:"severity"`
	Direction    Direction       `yaml:"direction" json:"direction"`
}

// DefaultRules returns the agency-wide rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Metric: MetricROAS, ThresholdPct: -20, Severity: models.SeverityHigh, Direction: DirectionDrop},
		{Metric: MetricCPA, ThresholdPct: 25, Severity: models.SeverityHigh, Direction: DirectionIncrease},
		{Metric: MetricCTR, ThresholdPct: -15, Severity: models.SeverityMedium, Direction: DirectionDrop},
		{Metric: MetricCPC, ThresholdPct: 30, Severity: models.SeverityMedium, Direction: DirectionIncrease},
		{Metric: MetricSpend, ThresholdPct: 50, Severity: models.SeverityLow, Direction: DirectionBoth},
		{Metric: MetricImpressions, ThresholdPct: -30, Severity: models.SeverityMedium, Direction: DirectionDrop},
		{Metric: MetricConversions, ThresholdPct: -25, Severity: models.SeverityHigh, Direction: DirectionDrop},
	}
}

// Validate checks that the rule names a known metric, severity and direction.
func (r Rule) Validate() error {
	if _, ok := metricValue(r.Metric, &models.MetricSummary{}); !ok {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if r.Severity.Rank() > models.SeverityLow.Rank() {
		return fmt.Errorf("unknown severity %q for metric %s", r.Severity, r.Metric)
	}
	switch r.Direction {
	case DirectionDrop, DirectionIncrease, DirectionBoth:
	default:
		return fmt.Errorf("unknown direction %q for metric %s", r.Direction, r.Metric)
	}
	return nil
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule list of the form
//
//	rules:
//	  - metric: roas
//	    threshold: -20
//	    severity: high
//	    direction: drop
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule file defines no rules")
	}
	for i, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return f.Rules, nil
}

// LoadRules reads rules from path. An empty path yields DefaultRules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}
