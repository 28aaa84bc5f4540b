package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/prescriptly/internal/domain"
)

// ErrNotFound is returned by mutations that target a row that does not exist.
var ErrNotFound = errors.New("not found")

const medicineColumns = `id, name, dosage, price, category, image, form, requires_prescription, in_stock, stock`

// CatalogStore is the read side of the medicine inventory.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (*domain.Medicine, error) {
	m := &domain.Medicine{}
	var form string
	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Price, &m.Category, &m.Image, &form,
		&m.RequiresPrescription, &m.InStock, &m.Stock); err != nil {
		return nil, err
	}
	m.Form = domain.ParseForm(form)
	return m, nil
}

func (s *CatalogStore) GetByID(ctx context.Context, id string) (*domain.Medicine, error) {
	m, err := scanMedicine(s.db.QueryRowContext(ctx, `
		SELECT `+medicineColumns+` FROM medicines WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medicine: %w", err)
	}
	return m, nil
}

// FindByName performs a case-insensitive exact match on the medicine name.
// It returns nil, nil when nothing matches.
func (s *CatalogStore) FindByName(ctx context.Context, name string) (*domain.Medicine, error) {
	m, err := scanMedicine(s.db.QueryRowContext(ctx, `
		SELECT `+medicineColumns+` FROM medicines WHERE LOWER(name) = LOWER(?)
	`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find medicine: %w", err)
	}
	return m, nil
}

// List returns the whole catalog in catalog order.
func (s *CatalogStore) List(ctx context.Context) ([]*domain.Medicine, error) {
	return s.query(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY rowid`)
}

// Search filters by a name substring and an optional category. An empty
// category or "All" matches every category.
func (s *CatalogStore) Search(ctx context.Context, query, category string) ([]*domain.Medicine, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
	if category == "" || strings.EqualFold(category, "all") {
		return s.query(ctx, `
			SELECT `+medicineColumns+` FROM medicines
			WHERE LOWER(name) LIKE ? ESCAPE '\'
			ORDER BY rowid
		`, pattern)
	}
	return s.query(ctx, `
		SELECT `+medicineColumns+` FROM medicines
		WHERE LOWER(name) LIKE ? ESCAPE '\' AND category = ?
		ORDER BY rowid
	`, pattern, category)
}

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *CatalogStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category FROM medicines GROUP BY category ORDER BY MIN(rowid)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func (s *CatalogStore) query(ctx context.Context, q string, args ...any) ([]*domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list medicines: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var medicines []*domain.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medicine: %w", err)
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating medicines: %w", err)
	}
	return medicines, nil
}
