package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/shinamagazin/shina-audit/pkg/observability"
)

// FieldDef describes how one entity field is labelled, typed and masked
type FieldDef struct {
	Label     string    `yaml:"label"`
	Type      FieldType `yaml:"type"`
	Sensitive bool      `yaml:"sensitive"`
}

// FieldRegistry maps (entityType, fieldName) to a FieldDef. It is safe for
// concurrent use and can be replaced wholesale on reload.
type FieldRegistry struct {
	mu       sync.RWMutex
	entities map[string]map[string]FieldDef
}

// NewFieldRegistry creates an empty registry
func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{entities: make(map[string]map[string]FieldDef)}
}

// DefaultFieldRegistry returns a registry preloaded with the shop's entities
func DefaultFieldRegistry() *FieldRegistry {
	r := NewFieldRegistry()
	r.Replace(defaultFieldDefs())
	return r
}

// Register adds or replaces one field definition
func (r *FieldRegistry) Register(entityType, field string, def FieldDef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields, ok := r.entities[entityType]
	if !ok {
		fields = make(map[string]FieldDef)
		r.entities[entityType] = fields
	}
	fields[field] = def
}

// Lookup returns the definition for a field, falling back to the raw field
// name, TEXT and not sensitive when the field is unregistered.
func (r *FieldRegistry) Lookup(entityType, field string) FieldDef {
	r.mu.RLock()
	def, ok := r.entities[entityType][field]
	r.mu.RUnlock()

	if !ok {
		return FieldDef{Label: field, Type: FieldTypeText}
	}
	if def.Label == "" {
		def.Label = field
	}
	if def.Type == "" {
		def.Type = FieldTypeText
	}
	return def
}

// SensitiveFields returns the sorted names of the sensitive fields of an entity type
func (r *FieldRegistry) SensitiveFields(entityType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, def := range r.entities[entityType] {
		if def.Sensitive {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// EntityTypes returns the registered entity types in sorted order
func (r *FieldRegistry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entities))
	for t := range r.entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Replace swaps the whole registry content
func (r *FieldRegistry) Replace(defs map[string]map[string]FieldDef) {
	copied := make(map[string]map[string]FieldDef, len(defs))
	for entity, fields := range defs {
		inner := make(map[string]FieldDef, len(fields))
		for name, def := range fields {
			inner[name] = def
		}
		copied[entity] = inner
	}

	r.mu.Lock()
	r.entities = copied
	r.mu.Unlock()
}

// registryFile is the YAML layout of a field registry override file
//
//	entities:
//	  Product:
//	    sellingPrice: {label: "Selling price", type: CURRENCY}
//	  Employee:
//	    passportNumber: {label: "Passport", sensitive: true}
type registryFile struct {
	Entities map[string]map[string]FieldDef `yaml:"entities"`
}

// ParseRegistryYAML decodes and validates a registry override document
func ParseRegistryYAML(data []byte) (map[string]map[string]FieldDef, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse field registry: %w", err)
	}

	for entity, fields := range file.Entities {
		for name, def := range fields {
			def.Type = FieldType(strings.ToUpper(string(def.Type)))
			switch def.Type {
			case "", FieldTypeText, FieldTypeCurrency, FieldTypeDate, FieldTypeDateTime, FieldTypeBoolean, FieldTypeEnum:
			default:
				return nil, fmt.Errorf("field registry: %s.%s has unknown type %q", entity, name, def.Type)
			}
			fields[name] = def
		}
	}
	return file.Entities, nil
}

// LoadFile replaces the registry with the defaults overlaid by the file at path
func (r *FieldRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read field registry %s: %w", path, err)
	}

	overrides, err := ParseRegistryYAML(data)
	if err != nil {
		return err
	}

	merged := defaultFieldDefs()
	for entity, fields := range overrides {
		if merged[entity] == nil {
			merged[entity] = make(map[string]FieldDef)
		}
		for name, def := range fields {
			merged[entity][name] = def
		}
	}

	r.Replace(merged)
	return nil
}

// WatchRegistryFile reloads the registry whenever the file at path changes,
// until ctx is cancelled. A failed reload keeps the previous definitions.
// The parent directory is watched so that atomic replaces are seen.
func WatchRegistryFile(ctx context.Context, path string, registry *FieldRegistry, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	log := logger.WithField("registry_file", absPath)

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(log, "field registry watcher")

		// Editors emit several events per save; reload once they settle.
		var debounce <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(200 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				if err := registry.LoadFile(absPath); err != nil {
					log.WithError(err).Error("field registry reload failed, keeping previous definitions")
					continue
				}
				log.Info("field registry reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("field registry watcher error")
			}
		}
	}()

	return nil
}

func defaultFieldDefs() map[string]map[string]FieldDef {
	text := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeText} }
	money := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeCurrency} }
	date := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeDate} }
	datetime := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeDateTime} }
	boolean := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeBoolean} }
	enum := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeEnum} }
	secret := func(label string) FieldDef { return FieldDef{Label: label, Type: FieldTypeText, Sensitive: true} }

	return map[string]map[string]FieldDef{
		"Product": {
			"sku":           text("SKU"),
			"name":          text("Name"),
			"brand":         text("Brand"),
			"category":      text("Category"),
			"width":         text("Width"),
			"profile":       text("Profile"),
			"diameter":      text("Diameter"),
			"loadIndex":     text("Load index"),
			"speedRating":   text("Speed rating"),
			"season":        enum("Season"),
			"purchasePrice": money("Purchase price"),
			"sellingPrice":  money("Selling price"),
			"quantity":      text("Quantity"),
			"minStockLevel": text("Minimum stock"),
			"description":   text("Description"),
			"active":        boolean("Active"),
		},
		"Customer": {
			"fullName":     text("Full name"),
			"phone":        text("Phone"),
			"phone2":       text("Second phone"),
			"address":      text("Address"),
			"companyName":  text("Company"),
			"customerType": enum("Customer type"),
			"balance":      money("Balance"),
			"notes":        text("Notes"),
			"active":       boolean("Active"),
		},
		"Employee": {
			"fullName":              text("Full name"),
			"phone":                 text("Phone"),
			"email":                 text("Email"),
			"position":              text("Position"),
			"department":            text("Department"),
			"salary":                money("Salary"),
			"hireDate":              date("Hire date"),
			"birthDate":             date("Birth date"),
			"status":                enum("Status"),
			"passportNumber":        secret("Passport number"),
			"bankAccountNumber":     secret("Bank account"),
			"address":               text("Address"),
			"emergencyContactName":  text("Emergency contact"),
			"emergencyContactPhone": text("Emergency phone"),
		},
		"Supplier": {
			"name":          text("Name"),
			"contactPerson": text("Contact person"),
			"phone":         text("Phone"),
			"email":         text("Email"),
			"address":       text("Address"),
			"bankDetails":   secret("Bank details"),
			"balance":       money("Balance"),
			"notes":         text("Notes"),
			"active":        boolean("Active"),
		},
		"Sale": {
			"invoiceNumber":  text("Invoice number"),
			"customer":       text("Customer"),
			"saleDate":       datetime("Sale date"),
			"subtotal":       money("Subtotal"),
			"discountAmount": money("Discount"),
			"totalAmount":    money("Total"),
			"paidAmount":     money("Paid"),
			"paymentMethod":  enum("Payment method"),
			"paymentStatus":  enum("Payment status"),
			"status":         enum("Status"),
			"notes":          text("Notes"),
		},
		"PurchaseOrder": {
			"orderNumber":   text("Order number"),
			"supplier":      text("Supplier"),
			"orderDate":     date("Order date"),
			"expectedDate":  date("Expected date"),
			"receivedDate":  date("Received date"),
			"dueDate":       date("Due date"),
			"totalAmount":   money("Total"),
			"paidAmount":    money("Paid"),
			"status":        enum("Status"),
			"paymentStatus": enum("Payment status"),
			"notes":         text("Notes"),
		},
		"User": {
			"username": text("Username"),
			"password": secret("Password"),
			"fullName": text("Full name"),
			"email":    text("Email"),
			"phone":    text("Phone"),
			"role":     enum("Role"),
			"active":   boolean("Active"),
		},
		"Brand": {
			"name":    text("Name"),
			"country": text("Country"),
			"logoUrl": text("Logo"),
			"active":  boolean("Active"),
		},
		"Category": {
			"name":        text("Name"),
			"description": text("Description"),
			"parent":      text("Parent category"),
			"active":      boolean("Active"),
		},
	}
}
