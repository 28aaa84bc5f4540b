package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/session"
)

type checkoutRequest struct {
	FullName string `json:"fullName"`
	Mobile   string `json:"mobile"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
}

func (c checkoutRequest) address() domain.ShippingAddress {
	return domain.ShippingAddress{
		FullName: c.FullName,
		Mobile:   c.Mobile,
		Address:  c.Address,
		City:     c.City,
		State:    c.State,
		Pincode:  c.Pincode,
	}
}

type checkoutErrorResponse struct {
	Error  string             `json:"error"`
	Fields domain.FieldErrors `json:"fields"`
}

// handleCheckout places an order for everything in the cart. Payment is
// simulated: a valid address always succeeds and the cart is emptied.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addr := req.address().Normalize()
	if fields := addr.Validate(); fields != nil {
		writeJSON(w, http.StatusBadRequest, checkoutErrorResponse{Error: "invalid shipping details", Fields: fields})
		return
	}

	cart, err := s.carts.Drain(r.Context(), sess.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, genericErrorMessage)
		s.log(r).Error("drain cart failed", "error", err)
		return
	}
	if len(cart.Lines) == 0 {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:    "cart is empty",
			Message:  "Your cart is empty.",
			Redirect: "/cart",
		})
		return
	}

	order := domain.NewOrder(uuid.NewString(), cart, addr, time.Now().UTC())
	s.log(r).Info("order placed",
		"order_id", order.ID,
		"items", order.ItemCount,
		"total", order.Total,
	)
	writeJSON(w, http.StatusOK, newOrderView(order))
}
