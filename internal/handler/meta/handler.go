package meta

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ragbot/backend/pkg/utils"
)

// isoMillis matches JavaScript's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Endpoint 描述一个对外公开的接口。
type Endpoint struct {
	Name  string
	Route string
}

// Handler 提供服务元信息与健康检查
type Handler struct {
	name      string
	endpoints []Endpoint
	now       func() time.Time
}

// New 创建元信息处理器
func New(name string, endpoints []Endpoint) *Handler {
	return &Handler{
		name:      name,
		endpoints: append([]Endpoint(nil), endpoints...),
		now:       time.Now,
	}
}

// RegisterRoutes 注册根路径与健康检查路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/health", h.handleHealth)
}

// handleIndex 列出可用接口
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	endpoints := make(map[string]string, len(h.endpoints))
	for _, ep := range h.endpoints {
		endpoints[ep.Name] = ep.Route
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   h.name,
		"endpoints": endpoints,
	})
}

// handleHealth 返回服务状态
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(isoMillis),
	})
}
