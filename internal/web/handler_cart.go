package web

import (
	"errors"
	"net/http"

	"github.com/vbonduro/prescriptly/internal/dialogue"
	"github.com/vbonduro/prescriptly/internal/session"
	"github.com/vbonduro/prescriptly/internal/store"
)

func (s *Server) writeCart(w http.ResponseWriter, r *http.Request, userID string) {
	cart, err := s.carts.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load cart")
		s.log(r).Error("list cart failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(cart))
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.writeCart(w, r, sess.User.ID)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.carts.Clear(r.Context(), sess.User.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cart")
		s.log(r).Error("clear cart failed", "error", err)
		return
	}
	s.writeCart(w, r, sess.User.ID)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req updateCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	itemID := r.PathValue("id")
	if err := s.carts.SetQuantity(r.Context(), sess.User.ID, itemID, req.Quantity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cart item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update cart item")
		s.log(r).Error("update cart item failed", "item_id", itemID, "error", err)
		return
	}
	s.writeCart(w, r, sess.User.ID)
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	itemID := r.PathValue("id")
	if err := s.carts.Remove(r.Context(), sess.User.ID, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cart item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove cart item")
		s.log(r).Error("remove cart item failed", "item_id", itemID, "error", err)
		return
	}
	s.writeCart(w, r, sess.User.ID)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	err := s.sessions.Close(r.Context(), sess.User.ID)
	if errors.Is(err, dialogue.ErrSessionBusy) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   "session busy",
			Message: "Please wait for the current reply before logging out.",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to end session")
		s.log(r).Error("close session failed", "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
