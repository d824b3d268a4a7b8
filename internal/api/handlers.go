package api

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"PayChat/internal/agent"
	"PayChat/internal/dispatch"
	xerrors "PayChat/internal/errors"
)

// SessionResponse 是创建会话的返回体。
type SessionResponse struct {
	ID string `json:"id"`
}

// MessageRequest 是发送消息的请求体。
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse 汇总一次对话产出的全部文本。出现硬失败时最后一段为
// "Error: ..." 文本，同时在 Error 中给出错误码。
type MessageResponse struct {
	Chunks []string   `json:"chunks"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody 是统一的错误结构。
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	session := s.sessions.Create()
	writeJSON(w, http.StatusCreated, SessionResponse{ID: session.ID()})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "消息内容不能为空")
		return
	}

	resp := MessageResponse{Chunks: []string{}}
	for text, err := range session.Chat(r.Context(), req.Text) {
		if err != nil {
			if stdErrors.Is(err, agent.ErrSessionBusy) {
				writeDomainError(w, err)
				return
			}
			resp.Chunks = append(resp.Chunks, renderFailure(err))
			resp.Error = &ErrorBody{Code: string(xerrors.CodeOf(err)), Message: xerrors.Render(err)}
			break
		}
		resp.Chunks = append(resp.Chunks, text)
	}
	writeJSON(w, http.StatusOK, resp)
}

// renderFailure 将硬失败转换为面向用户的文本。
func renderFailure(err error) string {
	return dispatch.ErrorMarker + xerrors.Render(err)
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case agent.CodeSessionNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case agent.CodeSessionBusy, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), string(xerrors.CodeOf(err)), xerrors.Render(err))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Debug("写入响应失败", slog.Any("error", err))
	}
}
