package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Detail is one audit record with its computed field changes, device
// classification and a navigation link to the affected entity.
type Detail struct {
	ID           int64         `json:"id"`
	EntityType   string        `json:"entityType"`
	EntityID     *int64        `json:"entityId"`
	EntityName   string        `json:"entityName"`
	EntityLink   string        `json:"entityLink,omitempty"`
	Action       Action        `json:"action"`
	Description  string        `json:"description"`
	CreatedAt    time.Time     `json:"createdAt"`
	UserID       *int64        `json:"userId"`
	Username     string        `json:"username"`
	IPAddress    *string       `json:"ipAddress"`
	DeviceInfo   DeviceInfo    `json:"deviceInfo"`
	FieldChanges []FieldChange `json:"fieldChanges"`
	OldValue     Snapshot      `json:"oldValue"`
	NewValue     Snapshot      `json:"newValue"`
}

// UserActivity is the compact per-user view of one record
type UserActivity struct {
	ID          int64                  `json:"id"`
	Action      Action                 `json:"action"`
	EntityType  string                 `json:"entityType"`
	EntityID    *int64                 `json:"entityId"`
	Description string                 `json:"description"`
	Changes     map[string]interface{} `json:"changes"`
	IPAddress   *string                `json:"ipAddress"`
	DeviceType  string                 `json:"deviceType"`
	Browser     string                 `json:"browser"`
	Timestamp   time.Time              `json:"timestamp"`
}

// BuildDetail expands a record for the detail view
func BuildDetail(registry *FieldRegistry, rec Record) Detail {
	changes := CalculateFieldChanges(registry, rec.EntityType, rec.OldValue, rec.NewValue)

	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.FieldName
	}

	var ua string
	if rec.UserAgent != nil {
		ua = *rec.UserAgent
	}

	return Detail{
		ID:           rec.ID,
		EntityType:   rec.EntityType,
		EntityID:     rec.EntityID,
		EntityName:   EntityName(rec.EntityType, rec.EntityID),
		EntityLink:   EntityLink(rec.EntityType, rec.EntityID),
		Action:       rec.Action,
		Description:  Describe(rec.Action, rec.EntityType, rec.EntityID, names),
		CreatedAt:    rec.CreatedAt,
		UserID:       rec.UserID,
		Username:     rec.DisplayUsername(),
		IPAddress:    rec.IPAddress,
		DeviceInfo:   ParseUserAgent(ua),
		FieldChanges: changes,
		OldValue:     rec.OldValue,
		NewValue:     rec.NewValue,
	}
}

// BuildUserActivity converts a record into its activity feed entry
func BuildUserActivity(rec Record) UserActivity {
	changes := activityChanges(rec.OldValue, rec.NewValue)

	var changed []string
	if rec.Action == ActionUpdate {
		changed = Snapshot(changes).Keys()
	}

	var ua string
	if rec.UserAgent != nil {
		ua = *rec.UserAgent
	}
	device := ParseUserAgent(ua)

	return UserActivity{
		ID:          rec.ID,
		Action:      rec.Action,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Description: Describe(rec.Action, rec.EntityType, rec.EntityID, changed),
		Changes:     changes,
		IPAddress:   rec.IPAddress,
		DeviceType:  device.DeviceType,
		Browser:     device.Browser,
		Timestamp:   rec.CreatedAt,
	}
}

// activityChanges returns the new snapshot for a creation, the old snapshot
// for a deletion and {"old", "new"} pairs of the differing fields otherwise.
func activityChanges(oldValues, newValues Snapshot) map[string]interface{} {
	switch {
	case oldValues == nil && newValues != nil:
		return newValues.Clone()
	case oldValues != nil && newValues == nil:
		return oldValues.Clone()
	case oldValues == nil && newValues == nil:
		return map[string]interface{}{}
	}

	changes := make(map[string]interface{})
	for _, name := range ChangedFieldNames(oldValues, newValues) {
		changes[name] = map[string]interface{}{
			"old": oldValues[name],
			"new": newValues[name],
		}
	}
	return changes
}

// Describe renders a one-line summary of a change
func Describe(action Action, entityType string, entityID *int64, changedFields []string) string {
	id := formatID(entityID)
	switch action {
	case ActionCreate:
		return fmt.Sprintf("%s created (ID: %s)", entityType, id)
	case ActionUpdate:
		return fmt.Sprintf("%s changed: %s (ID: %s)", entityType, strings.Join(changedFields, ", "), id)
	case ActionDelete:
		return fmt.Sprintf("%s deleted (ID: %s)", entityType, id)
	default:
		return fmt.Sprintf("%s - %s (ID: %s)", entityType, action, id)
	}
}

var entityRoutes = map[string]string{
	"Product":       "/products/%d",
	"Customer":      "/customers/%d",
	"Employee":      "/employees/%d",
	"Supplier":      "/suppliers/%d",
	"Sale":          "/sales/%d",
	"PurchaseOrder": "/purchases/%d",
	"Brand":         "/settings#brands",
	"Category":      "/settings#categories",
}

// EntityLink returns the UI route of an entity, or "" when the type has none
func EntityLink(entityType string, entityID *int64) string {
	if entityType == "" || entityID == nil {
		return ""
	}
	route, ok := entityRoutes[entityType]
	if !ok {
		return ""
	}
	if strings.Contains(route, "%d") {
		return fmt.Sprintf(route, *entityID)
	}
	return route
}

// EntityName returns the display name "{type} #{id}"
func EntityName(entityType string, entityID *int64) string {
	return entityType + " #" + formatID(entityID)
}

func formatID(id *int64) string {
	if id == nil {
		return NullPlaceholder
	}
	return strconv.FormatInt(*id, 10)
}
