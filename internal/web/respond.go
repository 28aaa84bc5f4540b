package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/imagechain"
	"github.com/vbonduro/prescriptly/internal/prescription"
	"github.com/vbonduro/prescriptly/internal/voice"
)

const maxJSONBody = 64 * 1024

// genericErrorMessage stands in for internal failures. The cause is logged,
// never returned.
const genericErrorMessage = "Something went wrong. Please try again."

var (
	errBodyRequired = errors.New("request body required")
	errInvalidBody  = errors.New("invalid request body")
)

type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a small JSON request body into v. The returned error text
// is safe to show to the caller; decoder details are dropped.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return errInvalidBody
	}
	return nil
}

type medicineView struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Dosage               string   `json:"dosage"`
	Price                int64    `json:"price"`
	Category             string   `json:"category"`
	Image                string   `json:"image"`
	ImageFallbacks       []string `json:"imageFallbacks"`
	Form                 string   `json:"type"`
	RequiresPrescription bool     `json:"requiresPrescription"`
	InStock              bool     `json:"inStock"`
	Stock                int      `json:"stock"`
}

// newMedicineView attaches the image resolution chain: Image is the first
// source to try and ImageFallbacks the rest, in order.
func newMedicineView(m domain.Medicine) medicineView {
	sources := imagechain.New(m).Sources()
	return medicineView{
		ID:                   m.ID,
		Name:                 m.Name,
		Dosage:               m.Dosage,
		Price:                m.Price,
		Category:             m.Category,
		Image:                sources[0],
		ImageFallbacks:       sources[1:],
		Form:                 string(m.Form),
		RequiresPrescription: m.RequiresPrescription,
		InStock:              m.InStock,
		Stock:                m.Stock,
	}
}

type cartLineView struct {
	Medicine  medicineView `json:"medicine"`
	Quantity  int          `json:"quantity"`
	LineTotal int64        `json:"lineTotal"`
	AddedAt   time.Time    `json:"addedAt"`
}

type cartView struct {
	Items       []cartLineView `json:"items"`
	ItemCount   int            `json:"itemCount"`
	Subtotal    int64          `json:"subtotal"`
	DeliveryFee int64          `json:"deliveryFee"`
	Total       int64          `json:"total"`
}

func newCartView(c *domain.Cart) cartView {
	v := cartView{
		Items:       make([]cartLineView, 0, len(c.Lines)),
		ItemCount:   c.ItemCount(),
		Subtotal:    c.Subtotal(),
		DeliveryFee: c.DeliveryFee(),
		Total:       c.Total(),
	}
	for _, l := range c.Lines {
		v.Items = append(v.Items, cartLineView{
			Medicine:  newMedicineView(l.Medicine),
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal(),
			AddedAt:   l.AddedAt,
		})
	}
	return v
}

type shippingView struct {
	FullName string `json:"fullName"`
	Mobile   string `json:"mobile"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
}

type orderView struct {
	ID          string         `json:"orderId"`
	Items       []cartLineView `json:"items"`
	ItemCount   int            `json:"itemCount"`
	Subtotal    int64          `json:"subtotal"`
	DeliveryFee int64          `json:"deliveryFee"`
	Total       int64          `json:"total"`
	Shipping    shippingView   `json:"shipping"`
	PlacedAt    time.Time      `json:"placedAt"`
}

func newOrderView(o domain.Order) orderView {
	items := newCartView(&domain.Cart{UserID: o.UserID, Lines: o.Lines}).Items
	a := o.Shipping
	return orderView{
		ID:          o.ID,
		Items:       items,
		ItemCount:   o.ItemCount,
		Subtotal:    o.Subtotal,
		DeliveryFee: o.DeliveryFee,
		Total:       o.Total,
		Shipping: shippingView{
			FullName: a.FullName,
			Mobile:   a.Mobile,
			Address:  a.Address,
			City:     a.City,
			State:    a.State,
			Pincode:  a.Pincode,
		},
		PlacedAt: o.PlacedAt,
	}
}

type turnView struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func newTurnView(t *domain.Turn) turnView {
	return turnView{ID: t.ID, Sender: string(t.Sender), Text: t.Text, Timestamp: t.CreatedAt}
}

func newTurnViews(turns []*domain.Turn) []turnView {
	out := make([]turnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, newTurnView(t))
	}
	return out
}

type candidateView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Source    string        `json:"source"`
	Medicine  *medicineView `json:"medicine"`
	Quantity  int           `json:"quantity"`
	Committed bool          `json:"committed"`
}

func newCandidateView(c domain.ScannedCandidate) candidateView {
	v := candidateView{ID: c.ID, Name: c.Name, Quantity: c.Quantity, Committed: c.Committed}
	if c.Item != nil {
		mv := newMedicineView(c.Item.Medicine)
		v.Medicine = &mv
		v.Source = string(c.Item.Source)
	}
	return v
}

type uploadView struct {
	ID         string    `json:"id"`
	MimeType   string    `json:"mimeType"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type flowView struct {
	State      string          `json:"state"`
	Message    string          `json:"message,omitempty"`
	Upload     *uploadView     `json:"upload,omitempty"`
	Candidates []candidateView `json:"candidates"`
}

func newFlowView(v prescription.View) flowView {
	out := flowView{
		State:      string(v.State),
		Message:    v.Message,
		Candidates: make([]candidateView, 0, len(v.Candidates)),
	}
	if v.Upload != nil {
		out.Upload = &uploadView{ID: v.Upload.ID, MimeType: v.Upload.MimeType, UploadedAt: v.Upload.UploadedAt}
	}
	for _, c := range v.Candidates {
		out.Candidates = append(out.Candidates, newCandidateView(c))
	}
	return out
}

type voiceView struct {
	State    string `json:"state"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
}

func newVoiceView(st voice.Status) voiceView {
	return voiceView{State: string(st.State), Category: string(st.Category), Message: st.Message}
}
