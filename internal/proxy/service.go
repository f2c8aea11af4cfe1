package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"liteproxy/internal/audit"
	"liteproxy/internal/store"
	"liteproxy/internal/store/cache"
	"liteproxy/internal/store/model"
	"liteproxy/pkg/api"
)

const configCacheTTL = 30 * time.Second

// Request carries everything the dispatch engine needs from an inbound call.
type Request struct {
	Method        string
	Path          string // forwarded verbatim, including the /v1 route suffix
	RawQuery      string
	Headers       http.Header
	Body          []byte // nil for GET
	Authorization string
}

// Result is a completed synchronous exchange with the backend. Responses
// with status >= 400 are still Results: they are relayed to the caller with
// the same status code and payload, never translated.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Service is the dispatch engine: it resolves proxy model names, injects
// credentials, rewrites the model field and forwards the request either
// synchronously or as a streaming relay.
type Service struct {
	logger   *zap.Logger
	repo     store.Repository
	cache    cache.Service
	recorder audit.Recorder

	// Backend calls deliberately carry no timeout: backend latency is the
	// caller's concern. Two shared clients cover the two TLS modes.
	client         *http.Client
	insecureClient *http.Client
}

func NewService(logger *zap.Logger, repo store.Repository, cacheSvc cache.Service, recorder audit.Recorder) *Service {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Service{
		logger:         logger,
		repo:           repo,
		cache:          cacheSvc,
		recorder:       recorder,
		client:         &http.Client{},
		insecureClient: &http.Client{Transport: insecureTransport},
	}
}

func (s *Service) clientFor(cfg *model.ProxyConfig) *http.Client {
	if cfg.IgnoreSSLVerify {
		return s.insecureClient
	}
	return s.client
}

func configCacheKey(name string) string {
	return "config:" + name
}

// Resolve looks up a proxy model configuration, consulting the cache first.
func (s *Service) Resolve(ctx context.Context, name string) (*model.ProxyConfig, error) {
	if s.cache != nil {
		var cached model.ProxyConfig
		if err := s.cache.Get(ctx, configCacheKey(name), &cached); err == nil {
			return &cached, nil
		}
	}

	cfg, err := s.repo.Configs().GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, api.NotFoundError(fmt.Sprintf("proxy model '%s' not found", name))
		}
		return nil, api.InternalError("configuration lookup failed", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, configCacheKey(name), cfg, configCacheTTL); err != nil {
			s.logger.Warn("Failed to cache configuration", zap.String("model", name), zap.Error(err))
		}
	}

	return cfg, nil
}

// InvalidateConfig drops a cached configuration after an admin mutation.
func (s *Service) InvalidateConfig(ctx context.Context, name string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, configCacheKey(name)); err != nil {
		s.logger.Warn("Failed to invalidate cached configuration", zap.String("model", name), zap.Error(err))
	}
}

// Dispatch executes an inbound call against its configured backend. Exactly
// one of Result or the stream channel is non-nil on success. The stream
// channel is returned before the backend exchange completes; the caller must
// drain it and flush each chunk as it arrives.
func (s *Service) Dispatch(ctx context.Context, req *Request) (*Result, <-chan []byte, error) {
	switch req.Method {
	case http.MethodPost:
		return s.dispatchPost(ctx, req)
	case http.MethodGet:
		return s.dispatchGet(ctx, req)
	default:
		return nil, nil, api.MethodNotAllowedError(req.Method)
	}
}

func (s *Service) dispatchPost(ctx context.Context, req *Request) (*Result, <-chan []byte, error) {
	// The payload is opaque apart from the model and stream fields; decoding
	// into a generic map preserves unknown fields on the way through.
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, nil, api.BadRequestError("request body is not valid JSON")
	}

	name, _ := payload["model"].(string)
	if name == "" {
		return nil, nil, api.BadRequestError("request body is missing the 'model' field")
	}

	cfg, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	payload["model"] = cfg.BackendModelName
	outBody, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, api.InternalError("failed to encode backend request body", err)
	}

	stream, _ := payload["stream"].(bool)
	if stream {
		return nil, s.stream(ctx, cfg, req, outBody), nil
	}

	res, err := s.forward(ctx, cfg, req, outBody)
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}

func (s *Service) dispatchGet(ctx context.Context, req *Request) (*Result, <-chan []byte, error) {
	params, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		return nil, nil, api.BadRequestError("malformed query string")
	}
	name := params.Get("model")
	if name == "" {
		return nil, nil, api.BadRequestError("no proxy model specified")
	}

	cfg, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.forward(ctx, cfg, req, nil)
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}

// buildBackendRequest assembles the outbound request: base URL + verbatim
// path, query passthrough for GET, and the credential precedence rule
// (configured backend key wins over the caller's Authorization header).
func (s *Service) buildBackendRequest(ctx context.Context, cfg *model.ProxyConfig, req *Request, body []byte) (*http.Request, error) {
	target := cfg.BaseURL + req.Path
	if req.Method == http.MethodGet && req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cfg.BackendAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.BackendAPIKey)
	} else if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}

	return httpReq, nil
}

func (s *Service) forward(ctx context.Context, cfg *model.ProxyConfig, req *Request, body []byte) (*Result, error) {
	httpReq, err := s.buildBackendRequest(ctx, cfg, req, body)
	if err != nil {
		return nil, api.InternalError("failed to build backend request", err)
	}

	start := time.Now()
	resp, err := s.clientFor(cfg).Do(httpReq)
	if err != nil {
		return nil, api.UnavailableError(
			fmt.Sprintf("could not connect to backend %s: %v", cfg.BaseURL, err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.InternalError("failed to read backend response", err)
	}
	elapsed := time.Since(start)

	entry := audit.NewEntry(req.Method, req.Path, audit.FlattenHeader(req.Headers))
	entry.RequestBody = audit.CaptureBody(body)
	entry.ResponseStatusCode = resp.StatusCode
	entry.ResponseHeaders = audit.FlattenHeader(resp.Header)
	entry.ResponseBody = audit.CaptureBody(respBody)
	entry.ProcessingTime = elapsed.Seconds()
	s.recorder.Record(entry)

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
