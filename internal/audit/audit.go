package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liteproxy/internal/store"
	"liteproxy/internal/store/model"
)

// Recorder handles persistence of audit records. Record is asynchronous and
// never blocks the caller; RecordNow is used where the record must exist
// before the response proceeds (provisional streaming records). Store
// failures are logged and swallowed, never surfaced to the caller.
//
// The worker keeps consuming until Stop, which blocks until everything
// queued has been written. Requests that complete during graceful shutdown
// still get their records persisted.
type Recorder interface {
	Record(entry *model.LogEntry)
	RecordNow(ctx context.Context, entry *model.LogEntry)
	FinalizeBody(ctx context.Context, id string, body model.Body)
	Start()
	Stop()
}

type recorder struct {
	logger    *zap.Logger
	repo      store.Repository
	entryChan chan *model.LogEntry
	done      chan struct{}
}

func NewRecorder(logger *zap.Logger, repo store.Repository) Recorder {
	return &recorder{
		logger:    logger,
		repo:      repo,
		entryChan: make(chan *model.LogEntry, 1024),
		done:      make(chan struct{}),
	}
}

// NewEntry creates a record skeleton with its identifier and timestamp set.
// The id is carried through streaming closures so the finalization patch
// never has to re-query by recency.
func NewEntry(method, path string, headers model.HeaderMap) *model.LogEntry {
	return &model.LogEntry{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		RequestMethod:  method,
		RequestPath:    path,
		RequestHeaders: headers,
	}
}

// CaptureBody applies the body capture policy: structured JSON when the
// bytes decode, raw text otherwise, absent when there is nothing to capture.
func CaptureBody(data []byte) model.Body {
	if len(data) == 0 {
		return model.Body{}
	}
	var structured interface{}
	if err := json.Unmarshal(data, &structured); err == nil {
		return model.JSONBody(structured)
	}
	return model.TextBody(string(data))
}

// FlattenHeader captures an http.Header as a flat string mapping. Repeated
// headers keep every value, comma-joined in arrival order.
func FlattenHeader(h http.Header) model.HeaderMap {
	flat := make(model.HeaderMap, len(h))
	for k, values := range h {
		if len(values) > 0 {
			flat[k] = strings.Join(values, ", ")
		}
	}
	return flat
}

func (r *recorder) Record(entry *model.LogEntry) {
	select {
	case r.entryChan <- entry:
	default:
		r.logger.Warn("Audit buffer full, dropping record", zap.String("id", entry.ID))
	}
}

func (r *recorder) RecordNow(ctx context.Context, entry *model.LogEntry) {
	if err := r.repo.Logs().Insert(ctx, entry); err != nil {
		r.logger.Error("Failed to persist audit record",
			zap.String("id", entry.ID),
			zap.Error(err))
	}
}

func (r *recorder) FinalizeBody(ctx context.Context, id string, body model.Body) {
	if err := r.repo.Logs().UpdateResponseBody(ctx, id, body); err != nil {
		r.logger.Error("Failed to finalize streamed response body",
			zap.String("id", id),
			zap.Error(err))
	}
}

func (r *recorder) Start() {
	go r.worker()
}

// Stop closes the intake and blocks until every queued record is written.
// It must run before the store handle is closed.
func (r *recorder) Stop() {
	close(r.entryChan)
	<-r.done
}

func (r *recorder) worker() {
	defer close(r.done)
	for entry := range r.entryChan {
		if err := r.repo.Logs().Insert(context.Background(), entry); err != nil {
			r.logger.Error("Failed to persist audit record",
				zap.String("id", entry.ID),
				zap.Error(err))
		}
	}
}
