package indexer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/google/uuid"
)

// IDPolicy decides the document id an event is stored under.
type IDPolicy string

const (
	// IDPolicyContent derives the id from the event itself. A redelivered
	// event overwrites its earlier copy.
	IDPolicyContent IDPolicy = "content"
	// IDPolicyRandom gives every write a fresh id. Redelivery duplicates.
	IDPolicyRandom IDPolicy = "random"
)

// eventNamespace scopes content ids so they cannot collide with UUIDv5 ids
// minted elsewhere from the same strings.
var eventNamespace = uuid.MustParse("6f1c7a52-3d0e-4b8a-9a55-2c6f0b7d4e91")

// ParseIDPolicy accepts "content" (the default when empty) and "random".
func ParseIDPolicy(s string) (IDPolicy, error) {
	switch p := IDPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return IDPolicyContent, nil
	case IDPolicyContent, IDPolicyRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown index id policy %q", s)
	}
}

// DocumentID returns the id for event under p.
func (p IDPolicy) DocumentID(event *models.ECommerceEvent) string {
	if p == IDPolicyRandom {
		return uuid.NewString()
	}
	return ContentID(event)
}

// ContentID is a UUIDv5 over the fields that identify one occurrence of an
// event.
func ContentID(event *models.ECommerceEvent) string {
	var productID string
	if event.ProductID != nil {
		productID = *event.ProductID
	}
	name := strings.Join([]string{
		event.UserID,
		event.SessionID,
		string(event.EventType),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		productID,
	}, "|")
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
