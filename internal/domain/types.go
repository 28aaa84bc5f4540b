package domain

import "time"

type Form string

const (
	FormTablet    Form = "tablet"
	FormCapsule   Form = "capsule"
	FormSyrup     Form = "syrup"
	FormCream     Form = "cream"
	FormInjection Form = "injection"
	FormDrops     Form = "drops"
	FormOther     Form = "other"
)

// Forms lists every dosage form in display order.
var Forms = []Form{FormTablet, FormCapsule, FormSyrup, FormCream, FormInjection, FormDrops, FormOther}

// ParseForm maps a stored form string to a Form, falling back to FormOther.
func ParseForm(s string) Form {
	for _, f := range Forms {
		if string(f) == s {
			return f
		}
	}
	return FormOther
}

// Medicine is a catalog entry. Price is in whole rupees.
type Medicine struct {
	ID                   string
	Name                 string
	Dosage               string
	Price                int64
	Category             string
	Image                string
	Form                 Form
	RequiresPrescription bool
	InStock              bool
	Stock                int
}

type CartLine struct {
	Medicine Medicine
	Quantity int
	AddedAt  time.Time
}

func (l CartLine) LineTotal() int64 {
	return l.Medicine.Price * int64(l.Quantity)
}

const (
	DeliveryFee           int64 = 49
	FreeDeliveryThreshold int64 = 500
)

type Cart struct {
	UserID string
	Lines  []CartLine
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c *Cart) Subtotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.LineTotal()
	}
	return total
}

// DeliveryFee is waived once the subtotal exceeds FreeDeliveryThreshold.
func (c *Cart) DeliveryFee() int64 {
	if len(c.Lines) == 0 || c.Subtotal() > FreeDeliveryThreshold {
		return 0
	}
	return DeliveryFee
}

func (c *Cart) Total() int64 {
	return c.Subtotal() + c.DeliveryFee()
}

type User struct {
	ID   string
	Name string
}

type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

type Turn struct {
	ID        string
	UserID    string
	Seq       int64
	Sender    Sender
	Text      string
	CreatedAt time.Time
}

type ItemSource string

const (
	SourceCatalog     ItemSource = "catalog"
	SourceSynthesized ItemSource = "synthesized"
)

// ResolvedItem is the cart-ready medicine behind a scanned prescription line.
type ResolvedItem struct {
	Medicine Medicine
	Source   ItemSource
}

type ScannedCandidate struct {
	ID        string
	Name      string
	Item      *ResolvedItem
	Quantity  int
	Committed bool
}

type PrescriptionUpload struct {
	ID         string
	UserID     string
	StorageKey string
	MimeType   string
	UploadedAt time.Time
}
