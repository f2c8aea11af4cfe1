package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"liteproxy/internal/audit"
	"liteproxy/internal/store/model"
	"liteproxy/pkg/api"
)

// backendModels is the per-backend outcome of a model listing fan-out:
// either entries or a reason the backend contributed nothing.
type backendModels struct {
	baseURL string
	entries []json.RawMessage
	err     error
}

// ListModels fans a model-listing request out to every distinct configured
// backend and concatenates the results in enumeration order. A failing
// backend is logged and skipped; it never fails the aggregate call.
func (s *Service) ListModels(ctx context.Context, path, callerAuth string, headers http.Header) (*api.ModelList, error) {
	baseURLs, err := s.repo.Configs().DistinctBaseURLs(ctx)
	if err != nil {
		return nil, api.InternalError("failed to enumerate configured backends", err)
	}

	callerHeaders := audit.FlattenHeader(headers)
	list := api.NewModelList()
	for _, baseURL := range baseURLs {
		result := s.fetchModels(ctx, baseURL, path, callerAuth, callerHeaders)
		if result.err != nil {
			s.logger.Warn("Skipping backend for model listing",
				zap.String("base_url", result.baseURL),
				zap.Error(result.err))
			continue
		}
		list.Data = append(list.Data, result.entries...)
	}

	return list, nil
}

func (s *Service) fetchModels(ctx context.Context, baseURL, path, callerAuth string, callerHeaders model.HeaderMap) backendModels {
	result := backendModels{baseURL: baseURL}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		result.err = err
		return result
	}
	if callerAuth != "" {
		httpReq.Header.Set("Authorization", callerAuth)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		result.err = fmt.Errorf("could not connect: %w", err)
		return result
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.err = fmt.Errorf("failed to read response: %w", err)
		return result
	}

	entry := audit.NewEntry(http.MethodGet, path, callerHeaders)
	entry.ResponseStatusCode = resp.StatusCode
	entry.ResponseHeaders = audit.FlattenHeader(resp.Header)
	entry.ResponseBody = audit.CaptureBody(body)
	entry.ProcessingTime = time.Since(start).Seconds()
	s.recorder.Record(entry)

	if resp.StatusCode != http.StatusOK {
		result.err = fmt.Errorf("backend returned status %d", resp.StatusCode)
		return result
	}

	data, err := api.ParseModelData(body)
	if err != nil {
		result.err = fmt.Errorf("malformed models payload: %w", err)
		return result
	}
	result.entries = data
	return result
}
