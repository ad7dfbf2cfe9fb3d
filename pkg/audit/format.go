package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// NullPlaceholder is shown for absent values
	NullPlaceholder = "-"

	// CurrencySuffix follows every formatted amount
	CurrencySuffix = " so'm"

	DateLayout     = "02.01.2006"
	DateTimeLayout = "02.01.2006 15:04:05"
)

var amountPrinter = message.NewPrinter(language.English)

// Layouts accepted when a DATE or DATETIME value arrives as a string
var timeInputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FormatValue renders value for display according to fieldType. It never
// fails: values that do not fit the type fall back to their raw string form.
func FormatValue(value interface{}, fieldType FieldType) string {
	if value == nil {
		return NullPlaceholder
	}

	switch fieldType {
	case FieldTypeCurrency:
		if amount, ok := toFloat(value); ok {
			return amountPrinter.Sprintf("%.2f", amount) + CurrencySuffix
		}
	case FieldTypeDate:
		if t, ok := toTime(value); ok {
			return t.Format(DateLayout)
		}
	case FieldTypeDateTime:
		if t, ok := toTime(value); ok {
			return t.Format(DateTimeLayout)
		}
	case FieldTypeBoolean:
		if b, ok := toBool(value); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	}

	return rawString(value)
}

func rawString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return NullPlaceholder
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case time.Time:
		return v.Format(DateTimeLayout)
	case fmt.Stringer:
		return v.String()
	case map[string]interface{}, []interface{}:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(value)
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeInputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}
