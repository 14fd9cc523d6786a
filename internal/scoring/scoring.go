// Package scoring computes the 0-100 priority score (APS) for queue items.
// Scoring is pure and deterministic: identical inputs always produce the
// same score and the same drivers breakdown.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

// Driver factor names.
const (
	FactorRevenue   = "revenue_impact"
	FactorUrgency   = "urgency"
	FactorEffort    = "effort"
	FactorStrategic = "strategic_value"
)

const (
	maxScore = 100

	// Urgency anchors: no deadline sits near the floor, anything beyond
	// the horizon decays to the overdue-free minimum.
	noDeadlineUrgency = 15
	minDeadlineU      = 25
	urgencyHorizon    = 30 * 24 * time.Hour

	// Revenue saturates around this deal value.
	revenueHalfValue = 25000

	// Effort saturates at a full day of work.
	effortFullDayMinutes = 480

	defaultEffortSubscore = 50
)

type Weights struct {
	Revenue   float64
	Urgency   float64
	Effort    float64
	Strategic float64
}

func DefaultWeights() Weights {
	return Weights{Revenue: 0.40, Urgency: 0.25, Effort: 0.15, Strategic: 0.20}
}

func WeightsFromConfig(c config.ScoringConfig) Weights {
	w := Weights{
		Revenue:   c.Weights.Revenue,
		Urgency:   c.Weights.Urgency,
		Effort:    c.Weights.Effort,
		Strategic: c.Weights.Strategic,
	}
	if w.Revenue+w.Urgency+w.Effort+w.Strategic == 0 {
		return DefaultWeights()
	}
	return w
}

// Input carries the scoring context of one queue item. WinRate is an opaque
// collaborator-supplied value in [0,1]; negative means unknown.
type Input struct {
	EstimatedValue float64
	WinRate        float64
	Deadline       *time.Time
	Now            time.Time
	EffortMinutes  float64
	ProfileFit     float64
	ExpansionValue float64
}

// Subscores are the four independently clamped factor scores, each in
// [0,100]. Effort is effort-to-complete: its final contribution is
// inverted by Combine.
type Subscores struct {
	Revenue   float64
	Urgency   float64
	Effort    float64
	Strategic float64
}

// Score computes the final priority score and its drivers.
func Score(in Input, w Weights) (float64, map[string]domain.Driver) {
	sub := Subscores{
		Revenue:   RevenueSubscore(in.EstimatedValue, in.WinRate),
		Urgency:   UrgencySubscore(in.Deadline, in.Now),
		Effort:    EffortSubscore(in.EffortMinutes),
		Strategic: StrategicSubscore(in.ProfileFit, in.ExpansionValue),
	}
	return Combine(sub, w, reasons(in))
}

// Combine applies the weighted sum. Effort contributes inverted: lower
// effort-to-complete raises the score.
func Combine(sub Subscores, w Weights, reason map[string]string) (float64, map[string]domain.Driver) {
	sub.Revenue = clamp(sub.Revenue)
	sub.Urgency = clamp(sub.Urgency)
	sub.Effort = clamp(sub.Effort)
	sub.Strategic = clamp(sub.Strategic)
	total := clamp(w.Revenue*sub.Revenue + w.Urgency*sub.Urgency + w.Effort*(maxScore-sub.Effort) + w.Strategic*sub.Strategic)
	if reason == nil {
		reason = map[string]string{}
	}
	drivers := map[string]domain.Driver{
		FactorRevenue:   {Subscore: sub.Revenue, Weight: w.Revenue, Reason: reason[FactorRevenue]},
		FactorUrgency:   {Subscore: sub.Urgency, Weight: w.Urgency, Reason: reason[FactorUrgency]},
		FactorEffort:    {Subscore: sub.Effort, Weight: w.Effort, Reason: reason[FactorEffort]},
		FactorStrategic: {Subscore: sub.Strategic, Weight: w.Strategic, Reason: reason[FactorStrategic]},
	}
	return total, drivers
}

// RevenueSubscore rises monotonically with deal value and segment win rate.
// Value saturates so a single mega-deal cannot dominate the queue forever.
func RevenueSubscore(value, winRate float64) float64 {
	if value < 0 {
		value = 0
	}
	valueScore := maxScore * value / (value + revenueHalfValue)
	if winRate < 0 {
		winRate = 0.5 // unknown segment
	}
	if winRate > 1 {
		winRate = 1
	}
	return clamp(valueScore * (0.5 + 0.5*winRate))
}

// UrgencySubscore falls monotonically with time-to-deadline. Overdue items
// score the maximum; items with no deadline get a low baseline.
func UrgencySubscore(deadline *time.Time, now time.Time) float64 {
	if deadline == nil {
		return noDeadlineUrgency
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return maxScore
	}
	frac := float64(remaining) / float64(urgencyHorizon)
	if frac > 1 {
		frac = 1
	}
	return clamp(maxScore - (maxScore-minDeadlineU)*frac)
}

// EffortSubscore is effort-to-complete, rising monotonically with the
// estimated minutes of work. Zero (unknown) maps to a mid default.
func EffortSubscore(minutes float64) float64 {
	if minutes <= 0 {
		return defaultEffortSubscore
	}
	frac := minutes / effortFullDayMinutes
	if frac > 1 {
		frac = 1
	}
	return clamp(maxScore * frac)
}

// StrategicSubscore rises monotonically with target-profile fit and
// expansion/logo value, both in [0,1].
func StrategicSubscore(fit, expansion float64) float64 {
	return clamp(70*unit(fit) + 30*unit(expansion))
}

func reasons(in Input) map[string]string {
	m := map[string]string{
		FactorRevenue:   fmt.Sprintf("estimated value %.0f, win rate %s", in.EstimatedValue, winRateLabel(in.WinRate)),
		FactorEffort:    effortLabel(in.EffortMinutes),
		FactorStrategic: fmt.Sprintf("profile fit %.2f, expansion %.2f", unit(in.ProfileFit), unit(in.ExpansionValue)),
	}
	switch {
	case in.Deadline == nil:
		m[FactorUrgency] = "no deadline"
	case !in.Deadline.After(in.Now):
		m[FactorUrgency] = "overdue"
	default:
		m[FactorUrgency] = fmt.Sprintf("due in %s", in.Deadline.Sub(in.Now).Round(time.Hour))
	}
	return m
}

func winRateLabel(w float64) string {
	if w < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.0f%%", math.Min(w, 1)*100)
}

func effortLabel(minutes float64) string {
	if minutes <= 0 {
		return "effort unknown"
	}
	return fmt.Sprintf("about %.0f minutes of work", minutes)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}

func unit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// FromContext extracts scoring inputs from an item's opaque context
// payload. Missing keys fall back to neutral values; win rate defaults to
// unknown since it is supplied by an external collaborator.
func FromContext(contextJSON string, now time.Time) Input {
	in := Input{Now: now, WinRate: -1}
	if contextJSON == "" {
		return in
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &m); err != nil {
		return in
	}
	in.EstimatedValue = num(m, "estimated_value")
	if v, ok := m["win_rate"]; ok {
		if f, ok := toFloat(v); ok {
			in.WinRate = f
		}
	}
	in.EffortMinutes = num(m, "effort_minutes")
	in.ProfileFit = num(m, "profile_fit")
	in.ExpansionValue = num(m, "expansion_value")
	if s, ok := m["deadline"].(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			in.Deadline = &t
		}
	}
	return in
}

func num(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
