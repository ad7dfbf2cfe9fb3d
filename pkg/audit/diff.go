package audit

import (
	"reflect"
	"sort"
)

// CalculateFieldChanges compares two snapshots of one entity and returns the
// changed fields in field-name order. Missing snapshots are treated as empty
// and unchanged fields are left out. Labels, types and sensitivity come from
// registry; a nil registry falls back to raw names and TEXT.
func CalculateFieldChanges(registry *FieldRegistry, entityType string, oldValues, newValues Snapshot) []FieldChange {
	keys := make(map[string]struct{}, len(oldValues)+len(newValues))
	for k := range oldValues {
		keys[k] = struct{}{}
	}
	for k := range newValues {
		keys[k] = struct{}{}
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	changes := make([]FieldChange, 0, len(names))
	for _, name := range names {
		oldValue, inOld := oldValues[name]
		newValue, inNew := newValues[name]

		changeType := classifyChange(oldValue, inOld, newValue, inNew)
		if changeType == ChangeUnchanged {
			continue
		}

		def := FieldDef{Label: name, Type: FieldTypeText}
		if registry != nil {
			def = registry.Lookup(entityType, name)
		}

		change := FieldChange{
			FieldName:   name,
			FieldLabel:  def.Label,
			OldValue:    oldValue,
			NewValue:    newValue,
			ChangeType:  changeType,
			FieldType:   def.Type,
			IsSensitive: def.Sensitive,
		}

		if def.Sensitive {
			change.OldValue = maskOrNil(oldValue)
			change.NewValue = maskOrNil(newValue)
			change.OldValueFormatted = FormatValue(change.OldValue, FieldTypeText)
			change.NewValueFormatted = FormatValue(change.NewValue, FieldTypeText)
		} else {
			change.OldValueFormatted = FormatValue(oldValue, def.Type)
			change.NewValueFormatted = FormatValue(newValue, def.Type)
		}

		changes = append(changes, change)
	}

	return changes
}

// ChangedFieldNames returns the sorted names of the fields that differ
func ChangedFieldNames(oldValues, newValues Snapshot) []string {
	var names []string
	for _, change := range CalculateFieldChanges(nil, "", oldValues, newValues) {
		names = append(names, change.FieldName)
	}
	return names
}

func classifyChange(oldValue interface{}, inOld bool, newValue interface{}, inNew bool) ChangeType {
	switch {
	case !inOld && inNew:
		return ChangeAdded
	case inOld && !inNew:
		return ChangeRemoved
	case valuesEqual(oldValue, newValue):
		return ChangeUnchanged
	default:
		return ChangeModified
	}
}

// valuesEqual compares numbers by value so that 100 and 100.0 match after a
// JSON round trip.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, isString := a.(string); !isString {
		if fa, ok := toFloat(a); ok {
			if _, isString := b.(string); !isString {
				if fb, ok := toFloat(b); ok {
					return fa == fb
				}
			}
		}
	}
	return reflect.DeepEqual(a, b)
}

func maskOrNil(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return maskAny(v)
}
