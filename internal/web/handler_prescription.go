package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/prescriptly/internal/prescription"
	"github.com/vbonduro/prescriptly/internal/session"
)

const maxPhotoSize = 50 * 1024 * 1024 // 50 MB

// allowedImageTypes is the set of MIME types accepted for prescription images.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniff spec (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

type flowResponse struct {
	Prescription flowView `json:"prescription"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) handleGetPrescription(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, flowResponse{Prescription: newFlowView(sess.Flow.View())})
}

func (s *Server) handleUploadPrescription(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		s.log(r).Error("read upload failed", "error", err)
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	view, err := sess.Flow.SelectFile(r.Context(), imageData, mimeType)
	if err != nil {
		s.writeFlowError(w, r, view, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Prescription: newFlowView(view)})
}

func (s *Server) handleGetPrescriptionImage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	upload := sess.Flow.View().Upload
	if upload == nil || s.photoStore == nil {
		writeError(w, http.StatusNotFound, "no prescription image selected")
		return
	}

	reader, mimeType, err := s.photoStore.Get(r.Context(), upload.StorageKey)
	if err != nil {
		writeError(w, http.StatusNotFound, "prescription image not found")
		s.log(r).Warn("get prescription image failed", "upload_id", upload.ID, "error", err)
		return
	}
	defer closeWithLog(reader, "prescription image", s.logger)

	w.Header().Set("Content-Type", mimeType)
	if _, err := io.Copy(w, reader); err != nil {
		s.log(r).Error("write prescription image failed", "upload_id", upload.ID, "error", err)
	}
}

func (s *Server) handleScanPrescription(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	// Use a detached context so that the analysis runs to completion even if
	// the client navigates away and the request context is cancelled.
	view, err := sess.Flow.Scan(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeFlowError(w, r, view, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Prescription: newFlowView(view)})
}

func (s *Server) handleResetPrescription(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	view, err := sess.Flow.Reset()
	if err != nil {
		s.writeFlowError(w, r, view, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Prescription: newFlowView(view)})
}

type adjustQuantityRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdjustCandidate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req adjustQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := sess.Flow.AdjustQuantity(r.PathValue("id"), req.Delta)
	if err != nil {
		s.writeFlowError(w, r, sess.Flow.View(), err)
		return
	}
	writeJSON(w, http.StatusOK, newCandidateView(c))
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	c, err := sess.Flow.AddToCart(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFlowError(w, r, sess.Flow.View(), err)
		return
	}
	writeJSON(w, http.StatusOK, newCandidateView(c))
}

// writeFlowError maps prescription flow errors to a status code. The body
// carries the flow view so the client can show its user-facing message.
func (s *Server) writeFlowError(w http.ResponseWriter, r *http.Request, view prescription.View, err error) {
	status, msg := http.StatusInternalServerError, genericErrorMessage
	switch {
	case errors.Is(err, prescription.ErrNoFile):
		status, msg = http.StatusBadRequest, "Please select a prescription image first."
	case errors.Is(err, prescription.ErrInvalidTransition):
		status, msg = http.StatusConflict, "That action is not available right now."
		if view.State == prescription.StateScanning {
			msg = "Please wait for the current scan to finish."
		}
	case errors.Is(err, prescription.ErrCandidateNotFound):
		status, msg = http.StatusNotFound, "That medicine is not in the scan results."
	case errors.Is(err, prescription.ErrNoneIdentified):
		status, msg = http.StatusUnprocessableEntity, prescription.NoneIdentifiedMessage
	case errors.Is(err, prescription.ErrScanFailed):
		status, msg = http.StatusBadGateway, prescription.ScanFailedMessage
	}
	if status >= http.StatusInternalServerError {
		s.log(r).Error("prescription request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, flowResponse{Prescription: newFlowView(view), Error: msg})
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
