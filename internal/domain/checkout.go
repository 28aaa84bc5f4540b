package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	mobilePattern  = regexp.MustCompile(`^\d{10}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
)

// ShippingAddress is where a checked-out cart is delivered.
type ShippingAddress struct {
	FullName string
	Mobile   string
	Address  string
	City     string
	State    string
	Pincode  string
}

// FieldErrors maps a field name to the message shown next to that field.
type FieldErrors map[string]string

// Normalize returns a copy with surrounding whitespace removed from every field.
func (a ShippingAddress) Normalize() ShippingAddress {
	return ShippingAddress{
		FullName: strings.TrimSpace(a.FullName),
		Mobile:   strings.TrimSpace(a.Mobile),
		Address:  strings.TrimSpace(a.Address),
		City:     strings.TrimSpace(a.City),
		State:    strings.TrimSpace(a.State),
		Pincode:  strings.TrimSpace(a.Pincode),
	}
}

// Validate checks the trimmed address and returns one message per invalid
// field, or nil when the address is complete.
func (a ShippingAddress) Validate() FieldErrors {
	a = a.Normalize()
	errs := FieldErrors{}

	switch {
	case a.FullName == "":
		errs["fullName"] = "Full name is required"
	case utf8.RuneCountInString(a.FullName) < 3:
		errs["fullName"] = "Name must be at least 3 characters"
	}

	switch {
	case a.Mobile == "":
		errs["mobile"] = "Mobile number is required"
	case !mobilePattern.MatchString(a.Mobile):
		errs["mobile"] = "Enter a valid 10-digit mobile number"
	}

	switch {
	case a.Address == "":
		errs["address"] = "Address is required"
	case utf8.RuneCountInString(a.Address) < 10:
		errs["address"] = "Please enter a complete address"
	}

	if a.City == "" {
		errs["city"] = "City is required"
	}
	if a.State == "" {
		errs["state"] = "State is required"
	}

	switch {
	case a.Pincode == "":
		errs["pincode"] = "Pincode is required"
	case !pincodePattern.MatchString(a.Pincode):
		errs["pincode"] = "Enter a valid 6-digit pincode"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Order is a placed checkout. Totals are frozen from the cart at the moment
// it was emptied.
type Order struct {
	ID          string
	UserID      string
	Lines       []CartLine
	Shipping    ShippingAddress
	ItemCount   int
	Subtotal    int64
	DeliveryFee int64
	Total       int64
	PlacedAt    time.Time
}

func NewOrder(id string, cart *Cart, shipping ShippingAddress, placedAt time.Time) Order {
	return Order{
		ID:          id,
		UserID:      cart.UserID,
		Lines:       cart.Lines,
		Shipping:    shipping.Normalize(),
		ItemCount:   cart.ItemCount(),
		Subtotal:    cart.Subtotal(),
		DeliveryFee: cart.DeliveryFee(),
		Total:       cart.Total(),
		PlacedAt:    placedAt,
	}
}
