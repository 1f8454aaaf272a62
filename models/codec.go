package models

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Field names are matched exactly so that the canonical and legacy layouts
// cannot be mistaken for each other.
var wireJSON = jsoniter.Config{
	EscapeHTML:    true,
	CaseSensitive: true,
}.Froze()

// ErrUndecodable is returned when no decode strategy accepts a payload.
var ErrUndecodable = errors.New("payload matches no known event format")

// Marshal encodes an event in the canonical (lower camel case) wire format.
// This is the only format the publisher emits.
func Marshal(e *ECommerceEvent) ([]byte, error) {
	return wireJSON.Marshal(e)
}

// DecodeStrategy is one way of turning a log payload into an event.
type DecodeStrategy struct {
	Name   string
	Decode func(payload []byte) (ECommerceEvent, error)
}

var (
	// CanonicalFormat decodes the lower camel case layout written by Marshal.
	CanonicalFormat = DecodeStrategy{Name: "canonical", Decode: decodeCanonical}
	// LegacyFormat decodes the older Pascal case layout (UserId, EventType, ...).
	LegacyFormat = DecodeStrategy{Name: "legacy", Decode: decodeLegacy}
)

// DecodeChain tries strategies in order; the first success wins.
type DecodeChain []DecodeStrategy

// DefaultDecodeChain accepts canonical payloads first and legacy ones second.
func DefaultDecodeChain() DecodeChain {
	return DecodeChain{CanonicalFormat, LegacyFormat}
}

// Decode returns the event and the name of the strategy that produced it.
func (c DecodeChain) Decode(payload []byte) (ECommerceEvent, string, error) {
	errs := make([]error, 0, len(c))
	for _, s := range c {
		evt, err := s.Decode(payload)
		if err == nil {
			return evt, s.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return ECommerceEvent{}, "", fmt.Errorf("%w: %w", ErrUndecodable, errors.Join(errs...))
}

func decodeCanonical(payload []byte) (ECommerceEvent, error) {
	var evt ECommerceEvent
	if err := wireJSON.Unmarshal(payload, &evt); err != nil {
		return ECommerceEvent{}, err
	}
	if err := evt.Validate(); err != nil {
		return ECommerceEvent{}, err
	}
	return evt, nil
}

type legacyEvent struct {
	UserID    string            `json:"UserId"`
	SessionID string            `json:"SessionId"`
	EventType EventType         `json:"EventType"`
	ProductID *string           `json:"ProductId"`
	Category  *string           `json:"Category"`
	Price     *float64          `json:"Price"`
	Timestamp time.Time         `json:"Timestamp"`
	IPAddress string            `json:"IpAddress"`
	Metadata  map[string]string `json:"Metadata"`
}

func decodeLegacy(payload []byte) (ECommerceEvent, error) {
	var old legacyEvent
	if err := wireJSON.Unmarshal(payload, &old); err != nil {
		return ECommerceEvent{}, err
	}
	evt := ECommerceEvent{
		UserID:    old.UserID,
		SessionID: old.SessionID,
		EventType: old.EventType,
		ProductID: old.ProductID,
		Category:  old.Category,
		Price:     old.Price,
		Timestamp: old.Timestamp,
		IPAddress: old.IPAddress,
		Metadata:  old.Metadata,
	}
	if err := evt.Validate(); err != nil {
		return ECommerceEvent{}, err
	}
	return evt, nil
}
