package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/prescriptly/internal/db"
	"github.com/vbonduro/prescriptly/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCatalogStoreFindByName(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "exact", query: "Dolo 650", want: "Dolo 650"},
		{name: "lower case", query: "dolo 650", want: "Dolo 650"},
		{name: "upper case with padding", query: "  AZITHRAL 500 ", want: "Azithral 500"},
		{name: "partial name is not a match", query: "Dolo", want: ""},
		{name: "unknown", query: "Nonexistent Drug", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := catalog.FindByName(ctx, tt.query)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Name)
		})
	}
}

func TestCatalogStoreGetByID(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	m, err := catalog.GetByID(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Dolo 650", m.Name)
	assert.Equal(t, "650mg", m.Dosage)
	assert.Equal(t, int64(30), m.Price)
	assert.Equal(t, "Fever & Pain Relief", m.Category)
	assert.Equal(t, domain.FormTablet, m.Form)
	assert.False(t, m.RequiresPrescription)
	assert.True(t, m.InStock)
	assert.Equal(t, 500, m.Stock)

	missing, err := catalog.GetByID(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCatalogStoreListKeepsCatalogOrder(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))

	list, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 39)
	assert.Equal(t, "Dolo 650", list[0].Name)
	assert.Equal(t, "Otorex Ear Drops", list[len(list)-1].Name)
}

func TestCatalogStoreOutOfStockEntry(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))

	m, err := catalog.FindByName(context.Background(), "Lantus Solostar Pen")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.False(t, m.InStock)
	assert.Equal(t, 0, m.Stock)
	assert.Equal(t, domain.FormInjection, m.Form)
}

func TestCatalogStoreSearch(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	results, err := catalog.Search(ctx, "drops", "")
	require.NoError(t, err)
	names := make([]string, 0, len(results))
	for _, m := range results {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "Ciplox Eye Drops")
	assert.Contains(t, names, "Otorex Ear Drops")

	results, err = catalog.Search(ctx, "", "Antibiotics")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	for _, m := range results {
		assert.Equal(t, "Antibiotics", m.Category)
	}

	all, err := catalog.Search(ctx, "", "All")
	require.NoError(t, err)
	assert.Len(t, all, 39)
}

func TestCatalogStoreSearchMatchesWildcardsLiterally(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))
	ctx := context.Background()

	for _, q := range []string{"%", "_", "dolo%", "d_lo", `\`} {
		results, err := catalog.Search(ctx, q, "")
		require.NoError(t, err, q)
		assert.Empty(t, results, q)
	}

	results, err := catalog.Search(ctx, "dolo 650", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Dolo 650", results[0].Name)
}

func TestCatalogStoreCategories(t *testing.T) {
	catalog := NewCatalogStore(openTestDB(t))

	categories, err := catalog.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Fever & Pain Relief",
		"Antibiotics",
		"Cold & Cough",
		"Digestive Health",
		"Allergy Care",
		"Skin Care",
		"First Aid",
		"Vitamins & Supplements",
		"Diabetes Care",
		"Eye & Ear Care",
	}, categories)
}
