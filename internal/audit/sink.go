// internal/audit/sink.go
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/EntryDSM/Casper-Application-sub008/internal/common/database"
	"github.com/EntryDSM/Casper-Application-sub008/internal/common/logger"
	"github.com/EntryDSM/Casper-Application-sub008/internal/saga"
)

// ElasticSink indexes terminal saga states so operators can search why a
// given receipt code completed, compensated, or failed.
type ElasticSink struct {
	es     *database.ElasticsearchClient
	index  string
	logger logger.Logger
}

func NewElasticSink(es *database.ElasticsearchClient, index string, log logger.Logger) *ElasticSink {
	return &ElasticSink{
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit-sink"}),
	}
}

type auditDocument struct {
	ReceiptCode   int64     `json:"receiptCode"`
	Status        string    `json:"status"`
	UserAcked     bool      `json:"userAcked"`
	StatusAcked   bool      `json:"statusAcked"`
	FailureReason string    `json:"failureReason,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`
}

func (s *ElasticSink) RecordTerminal(ctx context.Context, st *saga.State) error {
	doc := auditDocument{
		ReceiptCode:   st.ReceiptCode,
		Status:        string(st.Status),
		UserAcked:     st.UserAcked,
		StatusAcked:   st.StatusAcked,
		FailureReason: st.FailureReason,
		RecordedAt:    time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	docID := strconv.FormatInt(st.ReceiptCode, 10)
	if err := s.es.Index(ctx, s.index, docID, body); err != nil {
		return err
	}

	s.logger.Debug("terminal state indexed", map[string]interface{}{
		"receiptCode": st.ReceiptCode,
		"status":      string(st.Status),
	})
	return nil
}
