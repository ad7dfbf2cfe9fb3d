package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinamagazin/shina-audit/pkg/observability"
)

func TestDefaultFieldRegistry_Lookup(t *testing.T) {
	r := DefaultFieldRegistry()

	def := r.Lookup("Product", "sellingPrice")
	assert.Equal(t, "Selling price", def.Label)
	assert.Equal(t, FieldTypeCurrency, def.Type)
	assert.False(t, def.Sensitive)

	def = r.Lookup("Employee", "hireDate")
	assert.Equal(t, FieldTypeDate, def.Type)

	def = r.Lookup("Sale", "saleDate")
	assert.Equal(t, FieldTypeDateTime, def.Type)
}

func TestFieldRegistry_LookupFallback(t *testing.T) {
	r := DefaultFieldRegistry()

	def := r.Lookup("Product", "unknownField")
	assert.Equal(t, FieldDef{Label: "unknownField", Type: FieldTypeText}, def)

	def = r.Lookup("Warehouse", "name")
	assert.Equal(t, FieldDef{Label: "name", Type: FieldTypeText}, def)
}

func TestFieldRegistry_SensitiveFields(t *testing.T) {
	r := DefaultFieldRegistry()

	assert.Equal(t, []string{"bankAccountNumber", "passportNumber"}, r.SensitiveFields("Employee"))
	assert.Equal(t, []string{"password"}, r.SensitiveFields("User"))
	assert.Empty(t, r.SensitiveFields("Brand"))
	assert.Empty(t, r.SensitiveFields("Nope"))
}

func TestFieldRegistry_Register(t *testing.T) {
	r := NewFieldRegistry()
	r.Register("Debt", "amount", FieldDef{Label: "Amount", Type: FieldTypeCurrency})
	r.Register("Debt", "pin", FieldDef{Sensitive: true})

	assert.Equal(t, FieldTypeCurrency, r.Lookup("Debt", "amount").Type)

	pin := r.Lookup("Debt", "pin")
	assert.Equal(t, "pin", pin.Label)
	assert.Equal(t, FieldTypeText, pin.Type)
	assert.True(t, pin.Sensitive)
	assert.Equal(t, []string{"Debt"}, r.EntityTypes())
}

func TestParseRegistryYAML(t *testing.T) {
	doc := []byte(`
entities:
  Product:
    quantity:
      label: Stock
      type: text
  Debt:
    amount: {label: Amount, type: CURRENCY}
`)
	defs, err := ParseRegistryYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, FieldTypeText, defs["Product"]["quantity"].Type)
	assert.Equal(t, FieldTypeCurrency, defs["Debt"]["amount"].Type)

	_, err = ParseRegistryYAML([]byte("entities:\n  Product:\n    x: {type: MONEY}\n"))
	assert.Error(t, err)

	_, err = ParseRegistryYAML([]byte("entities: ["))
	assert.Error(t, err)
}

func TestFieldRegistry_LoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entities:
  Customer:
    phone: {label: Mobile, sensitive: true}
`), 0o644))

	r := DefaultFieldRegistry()
	require.NoError(t, r.LoadFile(path))

	assert.True(t, r.Lookup("Customer", "phone").Sensitive)
	assert.Equal(t, "Mobile", r.Lookup("Customer", "phone").Label)
	// defaults survive the overlay
	assert.Equal(t, FieldTypeCurrency, r.Lookup("Customer", "balance").Type)

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestWatchRegistryFile_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: {}\n"), 0o644))

	r := DefaultFieldRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, WatchRegistryFile(ctx, path, r, observability.NopLogger()))

	require.NoError(t, os.WriteFile(path, []byte(`
entities:
  Brand:
    country: {label: Origin, sensitive: true}
`), 0o644))

	assert.Eventually(t, func() bool {
		return r.Lookup("Brand", "country").Sensitive
	}, 5*time.Second, 50*time.Millisecond)
}
