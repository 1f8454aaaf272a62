// Package indexer stores decoded events in a searchable document store.
//
// Every adapter upserts by document id, so writing the same id twice leaves a
// single document. Whether redelivered events collapse into one document is up
// to the IDPolicy in use.
package indexer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Hmzcck/ECommerceEventTracker/models"
)

// Sink writes one event under an explicit document id.
type Sink interface {
	Upsert(ctx context.Context, id string, event *models.ECommerceEvent) error
}

// Backend names accepted by ParseBackend.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMongoDB       = "mongodb"
	BackendDynamoDB      = "dynamodb"
)

// ParseBackend normalizes an INDEX_BACKEND value.
func ParseBackend(s string) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(s)); b {
	case "", BackendElasticsearch:
		return BackendElasticsearch, nil
	case BackendMongoDB, "mongo":
		return BackendMongoDB, nil
	case BackendDynamoDB, "dynamo":
		return BackendDynamoDB, nil
	default:
		return "", fmt.Errorf("unknown index backend %q", s)
	}
}

// IndexError is a failed upsert. Diagnostic is the store's own description of
// the failure when it gave one.
type IndexError struct {
	Backend    string
	Index      string
	DocumentID string
	Diagnostic string
	Err        error
}

func (e *IndexError) Error() string {
	msg := fmt.Sprintf("%s: index %s document %s", e.Backend, e.Index, e.DocumentID)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexError) Unwrap() error { return e.Err }
