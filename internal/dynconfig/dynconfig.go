// Package dynconfig provides hot-reloadable, database-backed module
// configuration. Each module owns one typed config struct persisted as
// JSON in the dynamic_configs table, versioned by a hash of the
// struct's field layout so schema drift is detected and re-validated
// at load time.
package dynconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// Module is a typed handle on one module's stored configuration.
// Reads are lock-free against an atomic snapshot; writes persist first
// and then swap the snapshot and notify subscribers.
type Module[T any] struct {
	db     *gorm.DB
	name   string
	schema string

	current atomic.Pointer[T]

	mu          sync.Mutex
	subscribers []func(T)
}

// NewModule loads (or seeds) the configuration for moduleName. A
// missing row is created from defaults. A row saved under a different
// schema version is re-decoded against the current struct and
// re-saved, so removed fields are dropped and added fields pick up
// their defaults.
func NewModule[T any](db *gorm.DB, moduleName string, defaults T) (*Module[T], error) {
	m := &Module[T]{
		db:     db,
		name:   moduleName,
		schema: SchemaVersion(defaults),
	}

	var row models.DynamicConfig
	err := db.First(&row, "module_name = ?", moduleName).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := m.persist(defaults); err != nil {
			return nil, err
		}
		m.current.Store(&defaults)
		return m, nil
	case err != nil:
		return nil, errs.Internal(err, "failed to load config for module %s", moduleName)
	}

	value := defaults
	if err := json.Unmarshal(row.Config, &value); err != nil {
		return nil, errs.Internal(err, "stored config for module %s is not decodable", moduleName)
	}

	if row.SchemaVersion != m.schema {
		logger.Info("migrating dynamic config to current schema", map[string]interface{}{
			"module": moduleName,
			"from":   row.SchemaVersion,
			"to":     m.schema,
		})
		if err := m.persist(value); err != nil {
			return nil, err
		}
	}

	m.current.Store(&value)
	return m, nil
}

// Get returns the current configuration snapshot
func (m *Module[T]) Get() T {
	return *m.current.Load()
}

// Set validates nothing beyond decodability (callers validate domain
// rules), persists the value and notifies subscribers.
func (m *Module[T]) Set(value T) error {
	if err := m.persist(value); err != nil {
		return err
	}
	m.current.Store(&value)
	m.notify(value)
	return nil
}

// SetRaw decodes raw JSON against the module's struct and applies it.
// Unknown fields are rejected so operator typos surface immediately.
func (m *Module[T]) SetRaw(raw []byte) error {
	var value T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&value); err != nil {
		return errs.Validation("invalid config for module %s: %v", m.name, err)
	}
	return m.Set(value)
}

// Raw returns the current configuration as JSON
func (m *Module[T]) Raw() ([]byte, error) {
	data, err := json.Marshal(m.Get())
	if err != nil {
		return nil, errs.Internal(err, "failed to encode config for module %s", m.name)
	}
	return data, nil
}

// Subscribe registers a callback invoked after every successful Set.
// The callback runs on the setter's goroutine.
func (m *Module[T]) Subscribe(fn func(T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Module[T]) notify(value T) {
	m.mu.Lock()
	subscribers := append(([]func(T))(nil), m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(value)
	}
}

func (m *Module[T]) persist(value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Internal(err, "failed to encode config for module %s", m.name)
	}
	row := models.DynamicConfig{
		ModuleName:    m.name,
		Config:        datatypes.JSON(data),
		SchemaVersion: m.schema,
		UpdatedAt:     time.Now(),
	}
	err = m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "module_name"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return errs.Internal(err, "failed to save config for module %s", m.name)
	}
	return nil
}

// SchemaVersion hashes the field structure of a config type: field
// names, JSON tags and type kinds, recursively. Reordering fields or
// renaming JSON keys changes the version; editing default values does
// not.
func SchemaVersion(value interface{}) string {
	hash := sha256.New()
	describeType(reflect.TypeOf(value), hash.Write, map[reflect.Type]bool{})
	return hex.EncodeToString(hash.Sum(nil))[:16]
}

func describeType(t reflect.Type, write func([]byte) (int, error), seen map[reflect.Type]bool) {
	if t == nil {
		write([]byte("nil"))
		return
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if seen[t] {
			write([]byte("cycle:" + t.Name()))
			return
		}
		seen[t] = true
		write([]byte("struct{"))
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			fmt.Fprintf(hashWriter{write}, "%s:%s:", field.Name, field.Tag.Get("json"))
			describeType(field.Type, write, seen)
			write([]byte(";"))
		}
		write([]byte("}"))
	case reflect.Slice, reflect.Array:
		write([]byte("[]"))
		describeType(t.Elem(), write, seen)
	case reflect.Map:
		write([]byte("map["))
		describeType(t.Key(), write, seen)
		write([]byte("]"))
		describeType(t.Elem(), write, seen)
	default:
		write([]byte(t.Kind().String()))
	}
}

type hashWriter struct {
	write func([]byte) (int, error)
}

func (w hashWriter) Write(p []byte) (int, error) { return w.write(p) }

// ModuleNames lists the modules that have stored configuration, sorted
func ModuleNames(db *gorm.DB) ([]string, error) {
	var names []string
	if err := db.Model(&models.DynamicConfig{}).Pluck("module_name", &names).Error; err != nil {
		return nil, errs.Internal(err, "failed to list config modules")
	}
	sort.Strings(names)
	return names, nil
}
