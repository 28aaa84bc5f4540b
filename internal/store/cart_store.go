package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vbonduro/prescriptly/internal/domain"
)

// CartStore persists one cart per user. Each line keeps its own copy of the
// medicine attributes, so lines survive catalog edits and may reference
// synthesized items that were never in the catalog.
type CartStore struct {
	db *sql.DB
}

func NewCartStore(db *sql.DB) *CartStore {
	return &CartStore{db: db}
}

const cartColumns = `item_id, name, dosage, price, category, image, form, requires_prescription, quantity, added_at`

func scanCartLine(row rowScanner) (*domain.CartLine, error) {
	l := &domain.CartLine{}
	var form string
	if err := row.Scan(&l.Medicine.ID, &l.Medicine.Name, &l.Medicine.Dosage, &l.Medicine.Price,
		&l.Medicine.Category, &l.Medicine.Image, &form, &l.Medicine.RequiresPrescription,
		&l.Quantity, &l.AddedAt); err != nil {
		return nil, err
	}
	l.Medicine.Form = domain.ParseForm(form)
	l.Medicine.InStock = true
	return l, nil
}

// Add inserts a line or increments the quantity of an existing line with the
// same item id.
func (s *CartStore) Add(ctx context.Context, userID string, m domain.Medicine, quantity int) (*domain.CartLine, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("invalid quantity %d", quantity)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, item_id, name, dosage, price, category, image, form, requires_prescription, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity
	`, userID, m.ID, m.Name, m.Dosage, m.Price, m.Category, m.Image, string(m.Form), m.RequiresPrescription, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	return s.Get(ctx, userID, m.ID)
}

func (s *CartStore) Get(ctx context.Context, userID, itemID string) (*domain.CartLine, error) {
	l, err := scanCartLine(s.db.QueryRowContext(ctx, `
		SELECT `+cartColumns+` FROM cart_items WHERE user_id = ? AND item_id = ?
	`, userID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return l, nil
}

func (s *CartStore) List(ctx context.Context, userID string) (*domain.Cart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cartColumns+` FROM cart_items WHERE user_id = ? ORDER BY added_at ASC, rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	cart := &domain.Cart{UserID: userID}
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Lines = append(cart.Lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart: %w", err)
	}
	return cart, nil
}

// SetQuantity sets a line's quantity, clamping to a minimum of 1.
func (s *CartStore) SetQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	quantity = max(quantity, 1)
	result, err := s.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = ? WHERE user_id = ? AND item_id = ?
	`, quantity, userID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return expectAffected(result, "cart item")
}

func (s *CartStore) Remove(ctx context.Context, userID, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = ? AND item_id = ?
	`, userID, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return expectAffected(result, "cart item")
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// Drain empties the user's cart and returns the lines it held. The read and
// the delete are one statement, so a line added concurrently is either in the
// returned cart or still in the store.
func (s *CartStore) Drain(ctx context.Context, userID string) (*domain.Cart, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM cart_items WHERE user_id = ? RETURNING `+cartColumns+`
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to drain cart: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	cart := &domain.Cart{UserID: userID}
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Lines = append(cart.Lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drained cart: %w", err)
	}
	// RETURNING rows come back in no particular order.
	slices.SortStableFunc(cart.Lines, func(a, b domain.CartLine) int {
		return a.AddedAt.Compare(b.AddedAt)
	})
	return cart, nil
}

func expectAffected(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
