package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liteproxy/internal/proxy"
	"liteproxy/pkg/api"
)

type ProxyHandler struct {
	service *proxy.Service
	logger  *zap.Logger
}

func NewProxyHandler(service *proxy.Service, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: service,
		logger:  logger,
	}
}

// ChatCompletions dispatches a chat-completion call to its configured
// backend. The proxy model name is read from the body; the dispatcher
// decides between the synchronous path and the streaming relay.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(api.InternalError("failed to read request body", err))
			return
		}
		body = data
	}

	req := &proxy.Request{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		RawQuery:      c.Request.URL.RawQuery,
		Headers:       c.Request.Header,
		Body:          body,
		Authorization: c.GetHeader("Authorization"),
	}

	result, stream, err := h.service.Dispatch(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if stream != nil {
		h.relay(c, stream)
		return
	}

	contentType := result.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(result.StatusCode, contentType, result.Body)
}

// relay commits the SSE response and forwards chunks exactly as they arrive
// from the dispatcher. A failed write means the caller is gone; the
// dispatcher notices via the request context and releases the backend.
func (h *ProxyHandler) relay(c *gin.Context, stream <-chan []byte) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-stream
		if !ok {
			return false
		}
		if _, err := w.Write(chunk); err != nil {
			return false
		}
		return true
	})
}

// ListModels aggregates model listings across every configured backend.
func (h *ProxyHandler) ListModels(c *gin.Context) {
	list, err := h.service.ListModels(c.Request.Context(), c.Request.URL.Path, c.GetHeader("Authorization"), c.Request.Header)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, list)
}
