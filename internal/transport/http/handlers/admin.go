package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RuleReloader is the subset of rules.Registry the admin handler depends
// on; declared locally so handlers doesn't need to import the rules
// package just for this one method.
type RuleReloader interface {
	Reload(frameworks []string)
	Frameworks() []string
}

// AdminHandlers implements POST /admin/reload.
type AdminHandlers struct {
	logger   *slog.Logger
	registry RuleReloader
}

// NewAdminHandlers constructs an AdminHandlers.
func NewAdminHandlers(logger *slog.Logger, registry RuleReloader) *AdminHandlers {
	return &AdminHandlers{logger: logger, registry: registry}
}

// PostAdminReload triggers an atomic hot reload of every loaded
// framework's rule pack (spec: "operators can push a corrected rule file
// without a deploy"). Gated by middleware.AdminAuth.
func (h *AdminHandlers) PostAdminReload(c *gin.Context) {
	frameworks := h.registry.Frameworks()
	h.registry.Reload(frameworks)
	h.logger.Info("rule packs reloaded via admin endpoint", "frameworks", frameworks)
	c.JSON(http.StatusOK, gin.H{"reloaded": frameworks})
}
