package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vbonduro/prescriptly/internal/session"
	"github.com/vbonduro/prescriptly/internal/voice"
)

const maxAudioSize = 25 * 1024 * 1024 // 25 MB

const msgNotListening = "Voice input is not active. Tap the microphone to start."

type voiceResponse struct {
	Voice      voiceView `json:"voice"`
	Error      string    `json:"error,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Reply      *turnView `json:"reply,omitempty"`
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, voiceResponse{Voice: newVoiceView(sess.Voice.Status())})
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	st, err := sess.Voice.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, voiceResponse{Voice: newVoiceView(st)})
	case errors.Is(err, voice.ErrUnsupported):
		writeJSON(w, http.StatusNotImplemented, voiceResponse{Voice: newVoiceView(st), Error: voice.MessageUnsupported})
	case errors.Is(err, voice.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:    "authentication required",
			Message:  voice.MessageLoginRequired,
			Redirect: "/login",
		})
	default:
		writeError(w, http.StatusInternalServerError, "failed to start voice input")
		s.log(r).Error("voice start failed", "error", err)
	}
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, voiceResponse{Voice: newVoiceView(sess.Voice.Stop())})
}

type voiceErrorRequest struct {
	Error string `json:"error"`
}

// handleVoiceError records a failure the client hit while capturing audio,
// such as a denied microphone permission.
func (s *Server) handleVoiceError(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req voiceErrorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := sess.Voice.Fail(strings.TrimSpace(req.Error))
	if err != nil {
		writeJSON(w, http.StatusConflict, voiceResponse{Voice: newVoiceView(st), Error: msgNotListening})
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Voice: newVoiceView(st)})
}

func (s *Server) handleVoiceUtterance(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioSize)
	if err := r.ParseMultipartForm(maxAudioSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file required")
		return
	}
	defer closeWithLog(file, "audio file", s.logger)

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	res, err := sess.Voice.Submit(context.WithoutCancel(r.Context()), file, mimeType)
	st := newVoiceView(sess.Voice.Status())
	switch {
	case err == nil:
		reply := newTurnView(res.Reply)
		writeJSON(w, http.StatusOK, voiceResponse{Voice: st, Transcript: res.Transcript, Reply: &reply})
	case errors.Is(err, voice.ErrNotListening):
		writeJSON(w, http.StatusConflict, voiceResponse{Voice: st, Error: msgNotListening})
	case res != nil:
		// Recognized, but the dialogue engine did not accept the text.
		status, msg := sendErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log(r).Error("send transcript failed", "error", err)
		}
		writeJSON(w, status, voiceResponse{Voice: st, Transcript: res.Transcript, Error: msg})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, voiceResponse{Voice: st, Error: st.Message})
	}
}
