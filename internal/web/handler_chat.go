package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/vbonduro/prescriptly/internal/dialogue"
	"github.com/vbonduro/prescriptly/internal/session"
)

const maxMessageLen = 4000

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	turns, err := sess.Engine.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		s.log(r).Error("load history failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": newTurnViews(turns),
		"busy":     sess.Engine.Busy(),
	})
}

type sendChatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req sendChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Text) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	// The turn runs to completion even if the client goes away, so the log
	// never ends on an unanswered user message.
	reply, err := sess.Engine.Send(context.WithoutCancel(r.Context()), req.Text)
	if err != nil {
		s.writeSendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": newTurnView(reply)})
}

func (s *Server) writeSendError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := sendErrorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log(r).Error("send message failed", "error", err)
	}
	writeError(w, status, msg)
}

// sendErrorStatus maps dialogue errors shared by typed and spoken input.
func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dialogue.ErrEmptyMessage):
		return http.StatusBadRequest, "message must not be empty"
	case errors.Is(err, dialogue.ErrSessionBusy):
		return http.StatusConflict, "a reply is already being prepared"
	default:
		return http.StatusInternalServerError, genericErrorMessage
	}
}
