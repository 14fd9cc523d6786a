package scoring

import (
	"testing"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCombineWeightedScenario(t *testing.T) {
	// revenue 90, urgency 100, effort 10 (inverted to 90), strategic 90
	// with default weights lands on 92.5.
	score, drivers := Combine(Subscores{
		Revenue:   90,
		Urgency:   100,
		Effort:    10,
		Strategic: 90,
	}, DefaultWeights(), nil)
	if score != 92.5 {
		t.Fatalf("expected 92.5, got %v", score)
	}
	if len(drivers) != 4 {
		t.Fatalf("expected 4 drivers, got %d", len(drivers))
	}
	if d := drivers[FactorEffort]; d.Subscore != 10 || d.Weight != 0.15 {
		t.Fatalf("effort driver mismatch: %+v", d)
	}
}

func TestScoreBounds(t *testing.T) {
	overdue := testNow.Add(-time.Hour)
	cases := []Input{
		{Now: testNow},
		{Now: testNow, WinRate: -1},
		{EstimatedValue: 1e12, WinRate: 1, Deadline: &overdue, EffortMinutes: 1, ProfileFit: 1, ExpansionValue: 1, Now: testNow},
		{EstimatedValue: -500, WinRate: 2, EffortMinutes: 1e9, Now: testNow},
	}
	for i, in := range cases {
		score, drivers := Score(in, DefaultWeights())
		if score < 0 || score > 100 {
			t.Fatalf("case %d: score %v out of [0,100]", i, score)
		}
		for name, d := range drivers {
			if d.Subscore < 0 || d.Subscore > 100 {
				t.Fatalf("case %d: driver %s subscore %v out of [0,100]", i, name, d.Subscore)
			}
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	deadline := testNow.Add(48 * time.Hour)
	in := Input{
		EstimatedValue: 40000,
		WinRate:        0.6,
		Deadline:       &deadline,
		Now:            testNow,
		EffortMinutes:  90,
		ProfileFit:     0.8,
		ExpansionValue: 0.4,
	}
	s1, d1 := Score(in, DefaultWeights())
	s2, d2 := Score(in, DefaultWeights())
	if s1 != s2 {
		t.Fatalf("same input scored differently: %v vs %v", s1, s2)
	}
	for k, v := range d1 {
		if d2[k] != v {
			t.Fatalf("driver %s differs: %+v vs %+v", k, v, d2[k])
		}
	}
}

func TestRevenueSubscoreMonotonic(t *testing.T) {
	prev := -1.0
	for _, value := range []float64{0, 1000, 10000, 50000, 500000} {
		s := RevenueSubscore(value, 0.5)
		if s < prev {
			t.Fatalf("revenue subscore decreased at value %v: %v < %v", value, s, prev)
		}
		prev = s
	}
	if RevenueSubscore(25000, 0.9) <= RevenueSubscore(25000, 0.2) {
		t.Fatal("higher win rate should raise the revenue subscore")
	}
}

func TestUrgencySubscore(t *testing.T) {
	if got := UrgencySubscore(nil, testNow); got != noDeadlineUrgency {
		t.Fatalf("no deadline: expected %v, got %v", float64(noDeadlineUrgency), got)
	}
	overdue := testNow.Add(-time.Minute)
	if got := UrgencySubscore(&overdue, testNow); got != 100 {
		t.Fatalf("overdue: expected 100, got %v", got)
	}
	near := testNow.Add(24 * time.Hour)
	far := testNow.Add(20 * 24 * time.Hour)
	if UrgencySubscore(&near, testNow) <= UrgencySubscore(&far, testNow) {
		t.Fatal("closer deadline should score higher")
	}
	// A distant deadline still outranks having none at all.
	distant := testNow.Add(90 * 24 * time.Hour)
	if UrgencySubscore(&distant, testNow) <= UrgencySubscore(nil, testNow) {
		t.Fatal("any deadline should outrank no deadline")
	}
}

func TestEffortSubscoreMonotonic(t *testing.T) {
	if got := EffortSubscore(0); got != defaultEffortSubscore {
		t.Fatalf("unknown effort: expected %v, got %v", float64(defaultEffortSubscore), got)
	}
	if EffortSubscore(30) >= EffortSubscore(240) {
		t.Fatal("more minutes should raise effort-to-complete")
	}
	if got := EffortSubscore(10000); got != 100 {
		t.Fatalf("effort should saturate at 100, got %v", got)
	}
}

func TestEffortInvertedInFinalScore(t *testing.T) {
	quick, _ := Score(Input{EffortMinutes: 15, Now: testNow}, DefaultWeights())
	slow, _ := Score(Input{EffortMinutes: 480, Now: testNow}, DefaultWeights())
	if quick <= slow {
		t.Fatalf("lower effort should score higher: quick=%v slow=%v", quick, slow)
	}
}

func TestFromContext(t *testing.T) {
	in := FromContext(`{"estimated_value":50000,"win_rate":0.7,"effort_minutes":30,"profile_fit":0.9,"expansion_value":0.3,"deadline":"2024-03-05T00:00:00Z","recipient":"ada@example.com"}`, testNow)
	if in.EstimatedValue != 50000 || in.WinRate != 0.7 || in.EffortMinutes != 30 {
		t.Fatalf("unexpected input: %+v", in)
	}
	if in.Deadline == nil || !in.Deadline.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("deadline not parsed: %v", in.Deadline)
	}

	empty := FromContext("", testNow)
	if empty.WinRate != -1 {
		t.Fatalf("missing win rate should be unknown (-1), got %v", empty.WinRate)
	}
	if empty.Deadline != nil {
		t.Fatal("empty context should have no deadline")
	}
}

func TestWeightsFromConfigFallback(t *testing.T) {
	var sc config.ScoringConfig
	if got := WeightsFromConfig(sc); got != DefaultWeights() {
		t.Fatalf("zero config should fall back to defaults, got %+v", got)
	}
	sc.Weights.Revenue = 0.5
	sc.Weights.Urgency = 0.2
	sc.Weights.Effort = 0.1
	sc.Weights.Strategic = 0.2
	got := WeightsFromConfig(sc)
	if got.Revenue != 0.5 || got.Strategic != 0.2 {
		t.Fatalf("configured weights not applied: %+v", got)
	}
}

func TestDriversCarryReasons(t *testing.T) {
	_, drivers := Score(Input{Now: testNow}, DefaultWeights())
	if drivers[FactorUrgency].Reason != "no deadline" {
		t.Fatalf("urgency reason: %q", drivers[FactorUrgency].Reason)
	}
	var d domain.Driver = drivers[FactorEffort]
	if d.Reason == "" {
		t.Fatal("effort driver missing reason")
	}
}
