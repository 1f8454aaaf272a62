package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// EventType is the kind of behavioral event. It travels on the wire as its
// string name, never as an ordinal.
type EventType string

const (
	EventTypePageView       EventType = "PageView"
	EventTypeProductSearch  EventType = "ProductSearch"
	EventTypeAddToCart      EventType = "AddToCart"
	EventTypePurchase       EventType = "Purchase"
	EventTypeRemoveFromCart EventType = "RemoveFromCart"
)

var eventTypes = []EventType{
	EventTypePageView,
	EventTypeProductSearch,
	EventTypeAddToCart,
	EventTypePurchase,
	EventTypeRemoveFromCart,
}

// EventTypes returns every known event type in declaration order.
func EventTypes() []EventType {
	return append([]EventType(nil), eventTypes...)
}

// ParseEventType resolves a name to a known event type. Matching ignores case.
func ParseEventType(name string) (EventType, error) {
	for _, t := range eventTypes {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", name)
}

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalJSON rejects numbers and unknown names instead of defaulting.
func (t *EventType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("event type must be a string name: %w", err)
	}
	parsed, err := ParseEventType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ECommerceEvent is the unit of work carried from the HTTP edge through Kafka
// into the search index. Once enriched it is never mutated.
type ECommerceEvent struct {
	UserID    string            `json:"userId"`
	SessionID string            `json:"sessionId"`
	EventType EventType         `json:"eventType"`
	ProductID *string           `json:"productId,omitempty"`
	Category  *string           `json:"category,omitempty"`
	Price     *float64          `json:"price,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	IPAddress string            `json:"ipAddress"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TrackEventRequest is what a client may send. Timestamp and IP address are not
// part of it; the server always sets them.
type TrackEventRequest struct {
	UserID    string            `json:"userId" binding:"required"`
	SessionID string            `json:"sessionId" binding:"required"`
	EventType EventType         `json:"eventType" binding:"required"`
	ProductID *string           `json:"productId,omitempty"`
	Category  *string           `json:"category,omitempty"`
	Price     *float64          `json:"price,omitempty" binding:"omitempty,gte=0"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UnknownIPAddress is recorded when the remote address cannot be determined.
const UnknownIPAddress = "unknown"

// Enrich builds the publishable event from a validated request, stamping the
// ingestion time and the caller's address.
func Enrich(req TrackEventRequest, ipAddress string, now time.Time) ECommerceEvent {
	if ipAddress == "" {
		ipAddress = UnknownIPAddress
	}
	return ECommerceEvent{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		EventType: req.EventType,
		ProductID: cloneString(req.ProductID),
		Category:  cloneString(req.Category),
		Price:     cloneFloat(req.Price),
		Timestamp: now.UTC(),
		IPAddress: ipAddress,
		Metadata:  maps.Clone(req.Metadata),
	}
}

// Validate checks the fields that must be present on every wire record.
func (e *ECommerceEvent) Validate() error {
	switch {
	case e.UserID == "":
		return fmt.Errorf("missing userId")
	case e.SessionID == "":
		return fmt.Errorf("missing sessionId")
	case e.EventType == "":
		return fmt.Errorf("missing eventType")
	case !e.EventType.IsValid():
		return fmt.Errorf("unknown event type %q", e.EventType)
	case e.IPAddress == "":
		return fmt.Errorf("missing ipAddress")
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
