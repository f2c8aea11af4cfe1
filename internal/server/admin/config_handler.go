package admin

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liteproxy/internal/proxy"
	"liteproxy/internal/server/validator"
	"liteproxy/internal/store"
	"liteproxy/internal/store/model"
	"liteproxy/pkg/api"
)

type ConfigHandler struct {
	repo    store.Repository
	service *proxy.Service
}

func NewConfigHandler(repo store.Repository, service *proxy.Service) *ConfigHandler {
	return &ConfigHandler{
		repo:    repo,
		service: service,
	}
}

type configPayload struct {
	ProxyModelName   string `json:"proxy_model_name" binding:"required"`
	BaseURL          string `json:"base_url" binding:"required,url"`
	BackendModelName string `json:"backend_model_name" binding:"required"`
	BackendAPIKey    string `json:"backend_api_key"`
	IgnoreSSLVerify  bool   `json:"ignore_ssl_verify"`
}

// List returns every configuration.
//
// GET /admin/configs
func (h *ConfigHandler) List(c *gin.Context) {
	configs, err := h.repo.Configs().List(c.Request.Context())
	if err != nil {
		_ = c.Error(api.InternalError("failed to list configurations", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": configs})
}

// Create inserts a new configuration. The proxy model name is the unique
// key; a duplicate is a conflict, not an overwrite.
//
// POST /admin/configs
func (h *ConfigHandler) Create(c *gin.Context) {
	var payload configPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.repo.Configs().GetByName(ctx, payload.ProxyModelName); err == nil {
		_ = c.Error(api.ConflictError(
			fmt.Sprintf("proxy model '%s' already exists", payload.ProxyModelName)))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		_ = c.Error(api.InternalError("configuration lookup failed", err))
		return
	}

	now := time.Now().UTC()
	cfg := &model.ProxyConfig{
		ProxyModelName:   payload.ProxyModelName,
		BaseURL:          payload.BaseURL,
		BackendModelName: payload.BackendModelName,
		BackendAPIKey:    payload.BackendAPIKey,
		IgnoreSSLVerify:  payload.IgnoreSSLVerify,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.repo.Configs().Create(ctx, cfg); err != nil {
		_ = c.Error(api.InternalError("failed to create configuration", err))
		return
	}

	c.JSON(http.StatusCreated, cfg)
}

// Update replaces the configuration stored under the name in the path.
//
// PUT /admin/configs/:name
func (h *ConfigHandler) Update(c *gin.Context) {
	name := c.Param("name")

	var payload configPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	cfg := &model.ProxyConfig{
		ProxyModelName:   name,
		BaseURL:          payload.BaseURL,
		BackendModelName: payload.BackendModelName,
		BackendAPIKey:    payload.BackendAPIKey,
		IgnoreSSLVerify:  payload.IgnoreSSLVerify,
	}

	ctx := c.Request.Context()
	if err := h.repo.Configs().UpdateByName(ctx, name, cfg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = c.Error(api.NotFoundError(fmt.Sprintf("proxy model '%s' not found", name)))
			return
		}
		_ = c.Error(api.InternalError("failed to update configuration", err))
		return
	}

	h.service.InvalidateConfig(ctx, name)

	c.JSON(http.StatusOK, gin.H{"updated": name})
}

// Delete removes a configuration.
//
// DELETE /admin/configs/:name
func (h *ConfigHandler) Delete(c *gin.Context) {
	name := c.Param("name")

	ctx := c.Request.Context()
	if err := h.repo.Configs().DeleteByName(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = c.Error(api.NotFoundError(fmt.Sprintf("proxy model '%s' not found", name)))
			return
		}
		_ = c.Error(api.InternalError("failed to delete configuration", err))
		return
	}

	h.service.InvalidateConfig(ctx, name)

	c.JSON(http.StatusOK, gin.H{"deleted": name})
}
