package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateFieldChanges_PriceUpdate(t *testing.T) {
	oldValues := Snapshot{"name": "X", "price": 100}
	newValues := Snapshot{"name": "X", "price": 120}

	changes := CalculateFieldChanges(DefaultFieldRegistry(), "Product", oldValues, newValues)

	require.Len(t, changes, 1)
	assert.Equal(t, "price", changes[0].FieldName)
	assert.Equal(t, ChangeModified, changes[0].ChangeType)
	assert.Equal(t, "100", changes[0].OldValueFormatted)
	assert.Equal(t, "120", changes[0].NewValueFormatted)
}

func TestCalculateFieldChanges_Classification(t *testing.T) {
	oldValues := Snapshot{"a": 1, "b": "same", "c": "gone", "d": nil}
	newValues := Snapshot{"a": 2, "b": "same", "e": "new", "d": nil}

	changes := CalculateFieldChanges(nil, "Thing", oldValues, newValues)

	got := map[string]ChangeType{}
	for _, c := range changes {
		got[c.FieldName] = c.ChangeType
	}
	assert.Equal(t, map[string]ChangeType{
		"a": ChangeModified,
		"c": ChangeRemoved,
		"e": ChangeAdded,
	}, got)

	// ordered by field name
	var names []string
	for _, c := range changes {
		names = append(names, c.FieldName)
	}
	assert.Equal(t, []string{"a", "c", "e"}, names)
}

func TestCalculateFieldChanges_Symmetric(t *testing.T) {
	a := Snapshot{"x": 1, "y": "old", "z": true}
	b := Snapshot{"x": 1, "y": "new", "w": 5}

	forward := CalculateFieldChanges(nil, "T", a, b)
	backward := CalculateFieldChanges(nil, "T", b, a)
	require.Len(t, backward, len(forward))

	flip := map[ChangeType]ChangeType{
		ChangeAdded:    ChangeRemoved,
		ChangeRemoved:  ChangeAdded,
		ChangeModified: ChangeModified,
	}
	for i := range forward {
		assert.Equal(t, forward[i].FieldName, backward[i].FieldName)
		assert.Equal(t, flip[forward[i].ChangeType], backward[i].ChangeType)
		assert.Equal(t, forward[i].OldValue, backward[i].NewValue)
	}
}

func TestCalculateFieldChanges_NilSnapshots(t *testing.T) {
	assert.Empty(t, CalculateFieldChanges(nil, "T", nil, nil))

	created := CalculateFieldChanges(nil, "T", nil, Snapshot{"name": "A"})
	require.Len(t, created, 1)
	assert.Equal(t, ChangeAdded, created[0].ChangeType)
	assert.Equal(t, "-", created[0].OldValueFormatted)

	deleted := CalculateFieldChanges(nil, "T", Snapshot{"name": "A"}, nil)
	require.Len(t, deleted, 1)
	assert.Equal(t, ChangeRemoved, deleted[0].ChangeType)
	assert.Equal(t, "-", deleted[0].NewValueFormatted)
}

func TestCalculateFieldChanges_NumbersCompareByValue(t *testing.T) {
	changes := CalculateFieldChanges(nil, "T", Snapshot{"qty": 4}, Snapshot{"qty": float64(4)})
	assert.Empty(t, changes)

	changes = CalculateFieldChanges(nil, "T", Snapshot{"code": "4"}, Snapshot{"code": 4})
	assert.Len(t, changes, 1)
}

func TestCalculateFieldChanges_RegistryTypesAndMasking(t *testing.T) {
	r := DefaultFieldRegistry()

	changes := CalculateFieldChanges(r, "Employee",
		Snapshot{"salary": 5000000, "passportNumber": "AA1234567", "hireDate": "2023-01-10"},
		Snapshot{"salary": 6500000, "passportNumber": "AB7654321", "hireDate": "2023-02-01"},
	)
	require.Len(t, changes, 3)

	byName := map[string]FieldChange{}
	for _, c := range changes {
		byName[c.FieldName] = c
	}

	salary := byName["salary"]
	assert.Equal(t, "Salary", salary.FieldLabel)
	assert.Equal(t, FieldTypeCurrency, salary.FieldType)
	assert.Equal(t, "5,000,000.00 so'm", salary.OldValueFormatted)
	assert.Equal(t, "6,500,000.00 so'm", salary.NewValueFormatted)

	passport := byName["passportNumber"]
	assert.True(t, passport.IsSensitive)
	assert.Equal(t, "******4567", passport.OldValue)
	assert.Equal(t, "******4321", passport.NewValueFormatted)

	hire := byName["hireDate"]
	assert.Equal(t, "10.01.2023", hire.OldValueFormatted)
	assert.Equal(t, "01.02.2023", hire.NewValueFormatted)
}

func TestChangedFieldNames(t *testing.T) {
	names := ChangedFieldNames(Snapshot{"b": 1, "a": 1, "c": 1}, Snapshot{"b": 2, "a": 1, "d": 1})
	assert.Equal(t, []string{"b", "c", "d"}, names)
}
