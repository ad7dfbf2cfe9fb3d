package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"long value keeps last four", "supersecret123", "******t123"},
		{"exactly five", "12345", "******2345"},
		{"four chars fully redacted", "1234", "******"},
		{"short value fully redacted", "12", "******"},
		{"empty value", "", "******"},
		{"multibyte runes", "пароль-секрет", "******крет"},
		{"already masked", "******t123", "******t123"},
		{"bare mask token", "******", "******"},
		{"value starting with mask token is still masked", "******secretpass", "******pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskValue(tt.input))
		})
	}
}

func TestMask_Selective(t *testing.T) {
	fields := Snapshot{
		"username": "admin",
		"password": "supersecret123",
		"pin":      "12",
		"age":      42,
	}

	masked := Mask(fields, []string{"password", "pin", "missing"})

	assert.Equal(t, "******t123", masked["password"])
	assert.Equal(t, "******", masked["pin"])
	assert.Equal(t, "admin", masked["username"])
	assert.Equal(t, 42, masked["age"])
	assert.NotContains(t, masked, "missing")

	// input is untouched
	assert.Equal(t, "supersecret123", fields["password"])
}

func TestMask_Idempotent(t *testing.T) {
	fields := Snapshot{"passportNumber": "AA1234567", "bankAccountNumber": "20208000900100001234"}
	sensitive := []string{"passportNumber", "bankAccountNumber"}

	once := Mask(fields, sensitive)
	twice := Mask(once, sensitive)

	assert.Equal(t, once, twice)
	assert.Equal(t, "******4567", once["passportNumber"])
}

func TestMask_NilAndNonString(t *testing.T) {
	assert.Nil(t, Mask(nil, []string{"password"}))

	masked := Mask(Snapshot{"password": nil, "pin": 987654}, []string{"password", "pin"})
	require.Contains(t, masked, "password")
	assert.Nil(t, masked["password"])
	assert.Equal(t, "******7654", masked["pin"])
}
