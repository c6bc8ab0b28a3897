// Package notify holds the canonical notification model, the wire-payload
// normalizer, and the per-recipient state reconciler.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedNotification indicates a wire payload that could not be
// normalized (missing id, bad timestamp). Such frames are dropped by the
// caller and never reach the reconciler.
var ErrMalformedNotification = errors.New("malformed notification payload")

// Category constants as delivered on the wire.
const (
	CategoryOrderCreated    = "ORDER_CREATED"
	CategoryOrderConfirmed  = "ORDER_CONFIRMED"
	CategoryOrderPreparing  = "ORDER_PREPARING"
	CategoryOrderReady      = "ORDER_READY"
	CategoryOrderDelivering = "ORDER_DELIVERING"
	CategoryOrderCompleted  = "ORDER_COMPLETED"
	CategoryOrderCancelled  = "ORDER_CANCELLED"
	CategoryPromotion       = "PROMOTION"
	CategorySystem          = "SYSTEM"

	// Merchant/admin revenue-dispute workflow extensions.
	CategoryReconRequestCreated = "RECONCILIATION_REQUEST_CREATED"
	CategoryReconClaimSubmitted = "RECONCILIATION_CLAIM_SUBMITTED"
)

// Notification is the canonical in-memory record for one push-originated or
// fetched message. IDs are int64 end to end; any string/number ambiguity on
// the wire is resolved at the normalization boundary.
type Notification struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Category  string     `json:"type"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// wirePayload mirrors the upstream JSON shape. The timestamp field is either
// an ISO-8601 string or a numeric array [year, month, day, hour, minute,
// (second)] with a 1-based month.
type wirePayload struct {
	ID        json.Number     `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Category  string          `json:"type"`
	Read      bool            `json:"read"`
	CreatedAt json.RawMessage `json:"createdAt"`
	ReadAt    json.RawMessage `json:"readAt"`
}

// Normalize converts a raw wire payload into a canonical Notification.
// It is a pure transformation: errors are returned, never swallowed, and
// nothing is mutated on failure.
func Normalize(raw []byte) (*Notification, error) {
	var wp wirePayload
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	if wp.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedNotification)
	}
	id, err := wp.ID.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: non-integer id %q", ErrMalformedNotification, wp.ID)
	}

	createdAt, err := parseInstant(wp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: createdAt: %v", ErrMalformedNotification, err)
	}

	n := &Notification{
		ID:        id,
		Title:     wp.Title,
		Content:   wp.Content,
		Category:  wp.Category,
		Read:      wp.Read,
		CreatedAt: createdAt,
	}

	// readAt is optional; a malformed value here is not worth dropping the
	// whole frame over, but a present, well-formed one is kept.
	if len(wp.ReadAt) > 0 && string(wp.ReadAt) != "null" {
		if readAt, err := parseInstant(wp.ReadAt); err == nil {
			n.ReadAt = &readAt
		}
	}

	return n, nil
}

// parseInstant resolves the two supported timestamp encodings to a single
// absolute instant.
func parseInstant(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, errors.New("missing timestamp")
	}

	switch raw[0] {
	case '[':
		return parseArrayInstant(raw)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return parseStringInstant(s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp encoding %s", raw)
	}
}

// parseArrayInstant handles the upstream quirk of dates arriving as plain
// numeric arrays: [year, month(1-based), day, hour, minute, (second)].
func parseArrayInstant(raw json.RawMessage) (time.Time, error) {
	var parts []int
	if err := json.Unmarshal(raw, &parts); err != nil {
		return time.Time{}, fmt.Errorf("timestamp array: %w", err)
	}
	if len(parts) < 5 || len(parts) > 7 {
		return time.Time{}, fmt.Errorf("timestamp array has %d elements, want 5-7", len(parts))
	}

	sec := 0
	if len(parts) >= 6 {
		sec = parts[5]
	}
	nsec := 0
	if len(parts) == 7 {
		nsec = parts[6]
	}

	if parts[1] < 1 || parts[1] > 12 {
		return time.Time{}, fmt.Errorf("timestamp month %d out of range", parts[1])
	}
	if parts[2] < 1 || parts[2] > 31 {
		return time.Time{}, fmt.Errorf("timestamp day %d out of range", parts[2])
	}

	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], sec, nsec, time.Local)
	// time.Date normalizes impossible dates (Feb 31 becomes Mar 3); an input
	// that does not round-trip is malformed, not a different day.
	if t.Day() != parts[2] || t.Month() != time.Month(parts[1]) || t.Year() != parts[0] {
		return time.Time{}, fmt.Errorf("timestamp date %d-%d-%d does not exist", parts[0], parts[1], parts[2])
	}
	return t, nil
}

func parseStringInstant(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
