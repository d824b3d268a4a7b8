package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"PayChat/internal/agent"
	xerrors "PayChat/internal/errors"
)

// 帧类型。
const (
	FrameChunk = "chunk"
	FrameError = "error"
	FrameDone  = "done"
)

// Frame 是 websocket 上服务端发送的一帧。
type Frame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebsocket 每收到一条客户端消息就执行一次 Chat，
// 每段文本发送一帧，结束时发送 done 帧。
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := s.log.With(slog.String("session_id", session.ID()))
	ctx := r.Context()
	for {
		var in MessageRequest
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket 读取结束", slog.Any("error", err))
			}
			return
		}
		if in.Text == "" {
			if err := writeFrame(conn, Frame{Type: FrameError, Code: string(xerrors.CodeInvalidArgument), Text: "Error: empty message"}); err != nil {
				return
			}
			continue
		}
		if err := streamChat(ctx, conn, session, in.Text); err != nil {
			log.Debug("websocket 写入失败", slog.Any("error", err))
			return
		}
	}
}

// streamChat 出现硬失败时以 error 帧结束本条消息，连接保持可用。
func streamChat(ctx context.Context, conn *websocket.Conn, session *agent.Session, text string) error {
	for chunk, err := range session.Chat(ctx, text) {
		if err != nil {
			return writeFrame(conn, Frame{Type: FrameError, Code: string(xerrors.CodeOf(err)), Text: renderFailure(err)})
		}
		if err := writeFrame(conn, Frame{Type: FrameChunk, Text: chunk}); err != nil {
			return err
		}
	}
	return writeFrame(conn, Frame{Type: FrameDone})
}

func writeFrame(conn *websocket.Conn, frame Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
