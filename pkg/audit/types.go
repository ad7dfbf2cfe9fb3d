package audit

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Action is the kind of lifecycle change an audit record describes
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Known reports whether a is one of the built-in actions
func (a Action) Known() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a requested audit record does not exist
	ErrNotFound = errors.New("audit record not found")

	// ErrInvalidRecord is returned when a record violates the old/new value rules
	ErrInvalidRecord = errors.New("invalid audit record")
)

// Snapshot is the state of an entity at one point in time, keyed by field name
type Snapshot map[string]interface{}

// Keys returns the field names in lexicographic order
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy, nil for a nil snapshot
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Record is one immutable audit log entry
type Record struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   *int64    `json:"entityId"`
	Action     Action    `json:"action"`
	OldValue   Snapshot  `json:"oldValue"`
	NewValue   Snapshot  `json:"newValue"`
	UserID     *int64    `json:"userId"`
	Username   *string   `json:"username"`
	IPAddress  *string   `json:"ipAddress"`
	UserAgent  *string   `json:"userAgent"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate checks that OldValue and NewValue are present as the action requires
func (r *Record) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidRecord)
	}
	switch r.Action {
	case ActionCreate:
		if r.OldValue != nil || r.NewValue == nil {
			return fmt.Errorf("%w: CREATE requires only a new value", ErrInvalidRecord)
		}
	case ActionDelete:
		if r.NewValue != nil || r.OldValue == nil {
			return fmt.Errorf("%w: DELETE requires only an old value", ErrInvalidRecord)
		}
	case ActionUpdate:
		if r.OldValue == nil || r.NewValue == nil {
			return fmt.Errorf("%w: UPDATE requires old and new values", ErrInvalidRecord)
		}
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidRecord)
	}
	return nil
}

// DisplayUsername returns the username or "system" when the change had no actor
func (r *Record) DisplayUsername() string {
	if r.Username == nil || *r.Username == "" {
		return "system"
	}
	return *r.Username
}

// FieldType is the semantic type used to format a field value
type FieldType string

const (
	FieldTypeText     FieldType = "TEXT"
	FieldTypeCurrency FieldType = "CURRENCY"
	FieldTypeDate     FieldType = "DATE"
	FieldTypeDateTime FieldType = "DATETIME"
	FieldTypeBoolean  FieldType = "BOOLEAN"
	FieldTypeEnum     FieldType = "ENUM"
)

// ChangeType classifies how one field differs between two snapshots
type ChangeType string

const (
	ChangeAdded     ChangeType = "ADDED"
	ChangeRemoved   ChangeType = "REMOVED"
	ChangeModified  ChangeType = "MODIFIED"
	ChangeUnchanged ChangeType = "UNCHANGED"
)

// FieldChange describes one changed field. It is computed on read.
type FieldChange struct {
	FieldName         string      `json:"fieldName"`
	FieldLabel        string      `json:"fieldLabel"`
	OldValue          interface{} `json:"oldValue"`
	NewValue          interface{} `json:"newValue"`
	ChangeType        ChangeType  `json:"changeType"`
	FieldType         FieldType   `json:"fieldType"`
	IsSensitive       bool        `json:"isSensitive"`
	OldValueFormatted string      `json:"oldValueFormatted"`
	NewValueFormatted string      `json:"newValueFormatted"`
}

// RequestMeta is the client information captured once at the HTTP boundary
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Filter narrows audit queries. Zero values match everything.
type Filter struct {
	EntityType string
	EntityID   *int64
	Action     string
	UserID     *int64
	Search     string
	From       *time.Time
	To         *time.Time
}

// SortOrder orders a paginated query by one column
type SortOrder struct {
	Field string
	Desc  bool
}

// PageRequest selects one page of a query
type PageRequest struct {
	Page int
	Size int
	Sort []SortOrder
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Normalize clamps page and size and applies the default sort
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if len(p.Sort) == 0 {
		p.Sort = []SortOrder{{Field: "createdAt", Desc: true}}
	}
	return p
}

// Offset returns the row offset of the page
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Page is one page of results
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// NewPage builds a page from content and the total row count
func NewPage[T any](content []T, req PageRequest, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page[T]{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
	}
}

// MapPage converts the content of a page while keeping its paging fields
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Content))
	for i, item := range p.Content {
		out[i] = fn(item)
	}
	return Page[U]{
		Content:       out,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
