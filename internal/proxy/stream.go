package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"liteproxy/internal/audit"
	"liteproxy/internal/store/model"
	"liteproxy/pkg/api"
)

// stream opens a streaming connection to the backend and relays its chunks
// through the returned channel. Chunks are forwarded exactly as read, with
// their boundaries preserved; SSE framing from the backend passes through
// unmodified. Every chunk is simultaneously appended to an accumulation
// buffer that is decoded and patched into the audit record once the stream
// ends.
//
// The channel is closed on every exit path; the backend connection is
// released unconditionally. Errors discovered after the stream has been
// handed to the caller are delivered as synthetic SSE error events, since
// the response status and headers are already committed by then.
func (s *Service) stream(ctx context.Context, cfg *model.ProxyConfig, req *Request, body []byte) <-chan []byte {
	out := make(chan []byte)

	go func() {
		defer close(out)

		httpReq, err := s.buildBackendRequest(ctx, cfg, req, body)
		if err != nil {
			s.emit(ctx, out, syntheticErrorEvent(fmt.Sprintf("failed to build backend request: %v", err), "internal_error"))
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		start := time.Now()
		resp, err := s.clientFor(cfg).Do(httpReq)
		if err != nil {
			s.emit(ctx, out, syntheticErrorEvent(
				fmt.Sprintf("could not connect to backend %s: %v", cfg.BaseURL, err), "backend_unreachable"))
			return
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		// The provisional record must exist before the first byte is
		// relayed, so it survives a mid-stream client disconnect.
		entry := audit.NewEntry(req.Method, req.Path, audit.FlattenHeader(req.Headers))
		entry.RequestBody = audit.CaptureBody(body)
		entry.ResponseStatusCode = resp.StatusCode
		entry.ResponseHeaders = audit.FlattenHeader(resp.Header)
		entry.ProcessingTime = time.Since(start).Seconds()
		entry.IsStream = true
		s.recorder.RecordNow(context.Background(), entry)

		if resp.StatusCode >= 400 {
			errBody, _ := io.ReadAll(resp.Body)
			s.recorder.FinalizeBody(context.Background(), entry.ID, audit.CaptureBody(errBody))
			s.emit(ctx, out, backendErrorEvent(errBody))
			return
		}

		var accum bytes.Buffer
		defer func() {
			if captured := audit.CaptureBody(accum.Bytes()); captured.Valid {
				s.recorder.FinalizeBody(context.Background(), entry.ID, captured)
			}
		}()

		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				accum.Write(chunk)
				if !s.emit(ctx, out, chunk) {
					// caller is gone; release the backend connection now
					return
				}
			}
			if readErr == io.EOF {
				return
			}
			if readErr != nil {
				s.logger.Warn("Backend stream terminated early",
					zap.String("base_url", cfg.BaseURL),
					zap.Error(readErr))
				return
			}
		}
	}()

	return out
}

// emit delivers a chunk unless the caller has disconnected.
func (s *Service) emit(ctx context.Context, out chan<- []byte, chunk []byte) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// syntheticErrorEvent frames an error as a single SSE event for delivery
// inside an already-committed stream.
func syntheticErrorEvent(message, errType string) []byte {
	payload, _ := json.Marshal(api.NewErrorBody(message, errType))
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}

// backendErrorEvent surfaces a backend error payload as one SSE event,
// preserving the original JSON when there is any.
func backendErrorEvent(body []byte) []byte {
	if json.Valid(body) {
		return []byte(fmt.Sprintf("data: %s\n\n", body))
	}
	return syntheticErrorEvent(string(body), "backend_error")
}
