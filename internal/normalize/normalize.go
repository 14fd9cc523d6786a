// Package normalize maps raw collector events into canonical signals and
// computes their stable deduplication keys.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

// itemNamespace derives deterministic queue item ids from dedup keys.
var itemNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("gtmq.queue-item"))

type Normalizer struct {
	Config *config.Config
	Now    func() time.Time
}

func New(cfg *config.Config) Normalizer {
	return Normalizer{Config: cfg, Now: time.Now}
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Normalize validates a raw event and produces the canonical Signal.
func (n Normalizer) Normalize(raw domain.RawEvent) (domain.Signal, error) {
	if raw.EventType == "" {
		return domain.Signal{}, errors.New("event_type is required")
	}
	if raw.EntityID == "" {
		return domain.Signal{}, errors.New("entity_id is required")
	}
	if raw.Source == "" {
		raw.Source = domain.SourceManual
	}
	if !domain.KnownSource(raw.Source) {
		return domain.Signal{}, fmt.Errorf("unknown source %s", raw.Source)
	}
	detected := n.now().UTC()
	if raw.DetectedAt != "" {
		t, err := time.Parse(time.RFC3339, raw.DetectedAt)
		if err != nil {
			return domain.Signal{}, fmt.Errorf("detected_at: %w", err)
		}
		detected = t.UTC()
	}
	var payloadJSON string
	if len(raw.Payload) > 0 {
		b, err := json.Marshal(raw.Payload)
		if err != nil {
			return domain.Signal{}, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = string(b)
	}
	width := n.Config.BucketWidth(raw.EventType)
	key := DedupKey(raw.EventType, raw.EntityID, BucketStart(detected, width))
	return domain.Signal{
		ID:          uuid.New().String(),
		Source:      raw.Source,
		EventType:   raw.EventType,
		EntityID:    raw.EntityID,
		DetectedAt:  detected.Format(time.RFC3339),
		DedupKey:    key,
		PayloadJSON: payloadJSON,
		CreatedAt:   n.now().UTC().Format(time.RFC3339),
	}, nil
}

// BucketStart truncates t to the start of its dedup bucket. Daily buckets
// start at midnight UTC; weekly buckets start Monday midnight UTC.
func BucketStart(t time.Time, width time.Duration) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if width < 7*24*time.Hour {
		return day
	}
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// DedupKey hashes the identity tuple that collapses repeated signals.
func DedupKey(eventType, entityID string, bucketStart time.Time) string {
	sum := sha256.Sum256([]byte(eventType + "|" + entityID + "|" + bucketStart.Format("2006-01-02")))
	return hex.EncodeToString(sum[:])
}

// ItemID returns the deterministic queue item id for a dedup key, so
// re-ingesting the same signal maps to the same item.
func ItemID(dedupKey string) string {
	return uuid.NewSHA1(itemNamespace, []byte(dedupKey)).String()
}
