package normalize

import (
	"strings"
	"testing"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

func testNormalizer() Normalizer {
	n := New(config.Default("test"))
	n.Now = func() time.Time { return time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC) } // a Wednesday
	return n
}

func TestNormalizeValidation(t *testing.T) {
	n := testNormalizer()
	if _, err := n.Normalize(domain.RawEvent{EntityID: "acct-1"}); err == nil {
		t.Fatal("missing event_type should fail")
	}
	if _, err := n.Normalize(domain.RawEvent{EventType: "reply_received"}); err == nil {
		t.Fatal("missing entity_id should fail")
	}
	if _, err := n.Normalize(domain.RawEvent{EventType: "x", EntityID: "y", Source: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown source should fail")
	}
	if _, err := n.Normalize(domain.RawEvent{EventType: "x", EntityID: "y", DetectedAt: "yesterday"}); err == nil {
		t.Fatal("non-RFC3339 detected_at should fail")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	n := testNormalizer()
	s, err := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-1"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if s.Source != domain.SourceManual {
		t.Fatalf("expected manual source default, got %s", s.Source)
	}
	if s.DetectedAt != "2024-03-06T15:30:00Z" {
		t.Fatalf("detected_at should default to now, got %s", s.DetectedAt)
	}
	if s.ID == "" || s.DedupKey == "" {
		t.Fatal("id and dedup key must be set")
	}
}

func TestDedupKeyDailyBucket(t *testing.T) {
	n := testNormalizer()
	morning, _ := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-1", DetectedAt: "2024-03-06T01:00:00Z"})
	evening, _ := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-1", DetectedAt: "2024-03-06T23:59:00Z"})
	nextDay, _ := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-1", DetectedAt: "2024-03-07T01:00:00Z"})
	if morning.DedupKey != evening.DedupKey {
		t.Fatal("same day should collapse to one dedup key")
	}
	if morning.DedupKey == nextDay.DedupKey {
		t.Fatal("next day should produce a fresh dedup key")
	}
}

func TestDedupKeyWeeklyBucket(t *testing.T) {
	n := testNormalizer()
	// renewal_window uses a weekly bucket; Mar 4 2024 is a Monday.
	mon, _ := n.Normalize(domain.RawEvent{EventType: "renewal_window", EntityID: "acct-1", DetectedAt: "2024-03-04T09:00:00Z"})
	sun, _ := n.Normalize(domain.RawEvent{EventType: "renewal_window", EntityID: "acct-1", DetectedAt: "2024-03-10T23:00:00Z"})
	nextMon, _ := n.Normalize(domain.RawEvent{EventType: "renewal_window", EntityID: "acct-1", DetectedAt: "2024-03-11T09:00:00Z"})
	if mon.DedupKey != sun.DedupKey {
		t.Fatal("same ISO week should collapse to one dedup key")
	}
	if mon.DedupKey == nextMon.DedupKey {
		t.Fatal("next week should produce a fresh dedup key")
	}
}

func TestDedupKeyDistinguishesIdentity(t *testing.T) {
	n := testNormalizer()
	a, _ := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-1"})
	b, _ := n.Normalize(domain.RawEvent{EventType: "reply_received", EntityID: "acct-2"})
	c, _ := n.Normalize(domain.RawEvent{EventType: "deal_stalled_7d", EntityID: "acct-1"})
	if a.DedupKey == b.DedupKey || a.DedupKey == c.DedupKey {
		t.Fatal("entity and event type must both feed the dedup key")
	}
}

func TestBucketStart(t *testing.T) {
	wed := time.Date(2024, 3, 6, 18, 45, 0, 0, time.UTC)
	day := BucketStart(wed, 24*time.Hour)
	if !day.Equal(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("daily bucket start: %v", day)
	}
	week := BucketStart(wed, 7*24*time.Hour)
	if !week.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("weekly bucket should start Monday, got %v", week)
	}
	if week.Weekday() != time.Monday {
		t.Fatalf("weekly bucket starts on %v", week.Weekday())
	}
}

func TestItemIDDeterministic(t *testing.T) {
	key := DedupKey("reply_received", "acct-1", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	if ItemID(key) != ItemID(key) {
		t.Fatal("item id must be stable for a dedup key")
	}
	other := DedupKey("reply_received", "acct-2", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	if ItemID(key) == ItemID(other) {
		t.Fatal("distinct dedup keys must map to distinct item ids")
	}
	if strings.Count(ItemID(key), "-") != 4 {
		t.Fatalf("item id should be a UUID, got %s", ItemID(key))
	}
}
