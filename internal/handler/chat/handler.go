package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
	"github.com/zhouzirui/ragbot/backend/pkg/utils"
)

// Error texts returned to clients.
const (
	ErrMessageRequired = "Message field is required and must be a string"
	ErrInvalidJSON     = "Invalid JSON body"
	ErrInference       = "Failed to generate a response"
	ErrInternal        = "Internal server error"
)

// SessionHeader carries the caller-chosen session key.
const SessionHeader = "X-Session-ID"

// TurnRunner 执行一轮对话并读取会话历史。
type TurnRunner interface {
	HandleTurn(ctx context.Context, sessionKey, userText string) (chat.History, error)
	History(ctx context.Context, sessionKey string) (chat.History, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	turns      TurnRunner
	defaultKey string
	upgrader   websocket.Upgrader
}

// New 创建聊天处理器。defaultKey 用于未携带会话标识的请求。
func New(turns TurnRunner, defaultKey string) *Handler {
	return &Handler{
		turns:      turns,
		defaultKey: defaultKey,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/history", h.handleHistory)
	r.Get("/chat/ws", h.handleWebSocket)
}

type chatRequest struct {
	Message json.RawMessage `json:"message"`
}

type historyResponse struct {
	Messages chat.History `json:"messages"`
}

// handleChat 处理一轮用户消息并返回完整历史
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		h.respondTurnError(w, &chat.MalformedRequestError{Err: err})
		return
	}

	text, err := messageText(payload.Message)
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	history, err := h.turns.HandleTurn(r.Context(), h.sessionKey(r), text)
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, historyResponse{Messages: history})
}

// handleHistory 返回当前会话的历史
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.turns.History(r.Context(), h.sessionKey(r))
	if err != nil {
		h.respondTurnError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{Messages: history})
}

// handleWebSocket 每收到一帧 {"message": ...} 执行一轮对话，并回写完整历史或错误。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionKey := h.sessionKey(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(utils.MaxBodyBytes)

	log.Printf("[ws] connected session=%s", sessionKey)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read error session=%s: %v", sessionKey, err)
			}
			return
		}

		var reply interface{}
		var payload chatRequest
		if err := json.Unmarshal(data, &payload); err != nil {
			_, reply = turnErrorBody(&chat.MalformedRequestError{Err: err})
		} else if text, err := messageText(payload.Message); err != nil {
			_, reply = turnErrorBody(err)
		} else if history, err := h.turns.HandleTurn(r.Context(), sessionKey, text); err != nil {
			_, reply = turnErrorBody(err)
		} else {
			reply = historyResponse{Messages: history}
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("[ws] write error session=%s: %v", sessionKey, err)
			return
		}
	}
}

// sessionKey resolves the session from the header, then the query, then the default.
func (h *Handler) sessionKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(SessionHeader)); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.URL.Query().Get("sessionId")); key != "" {
		return key
	}
	return h.defaultKey
}

func (h *Handler) respondTurnError(w http.ResponseWriter, err error) {
	status, body := turnErrorBody(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[chat] turn failed: %v", err)
	}
	utils.RespondJSON(w, status, body)
}

func turnErrorBody(err error) (int, map[string]string) {
	switch {
	case chat.IsMalformed(err):
		return http.StatusBadRequest, map[string]string{"error": ErrInvalidJSON}
	case chat.IsValidation(err):
		return http.StatusBadRequest, map[string]string{"error": ErrMessageRequired}
	case chat.IsInference(err):
		return http.StatusInternalServerError, map[string]string{"error": ErrInference}
	default:
		return http.StatusInternalServerError, map[string]string{"error": ErrInternal}
	}
}

// messageText accepts only a non-empty JSON string.
func messageText(raw json.RawMessage) (string, error) {
	invalid := &chat.ValidationError{Field: "message", Reason: "is required and must be a string"}
	if len(raw) == 0 {
		return "", invalid
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return "", invalid
	}
	return text, nil
}
