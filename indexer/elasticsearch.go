package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Hmzcck/ECommerceEventTracker/models"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// DefaultIndexName is the index events are written to unless configured.
const DefaultIndexName = "ecommerce-events"

// ElasticsearchSink indexes events with the document API, using PUT with an
// explicit id so a repeated id replaces the document.
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
	logger *zap.Logger
}

func NewElasticsearchSink(client *elasticsearch.Client, index string, logger *zap.Logger) *ElasticsearchSink {
	if index == "" {
		index = DefaultIndexName
	}
	return &ElasticsearchSink{client: client, index: index, logger: logger}
}

func (s *ElasticsearchSink) Upsert(ctx context.Context, id string, event *models.ECommerceEvent) error {
	body, err := models.Marshal(event)
	if err != nil {
		return s.indexError(id, "", fmt.Errorf("serialize event: %w", err))
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(id),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return s.indexError(id, "", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		diag, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return s.indexError(id, fmt.Sprintf("%s %s", res.Status(), bytes.TrimSpace(diag)), nil)
	}
	_, _ = io.Copy(io.Discard, res.Body)

	s.logger.Debug("indexed event",
		zap.String("index", s.index),
		zap.String("document_id", id),
		zap.Int("status", res.StatusCode),
	)
	return nil
}

func (s *ElasticsearchSink) indexError(id, diagnostic string, err error) error {
	return &IndexError{
		Backend:    BackendElasticsearch,
		Index:      s.index,
		DocumentID: id,
		Diagnostic: diagnostic,
		Err:        err,
	}
}
