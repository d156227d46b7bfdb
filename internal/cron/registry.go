// Package cron implements the persistent, timezone-aware job engine:
// a registry of typed job functions, a manager for the job lifecycle,
// an execution wrapper with per-run history, and the conflict-aware
// restart slot finder.
package cron

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// JobFunc is a registered job body. It reports progress through the
// execution context and should poll Cancelled() in long loops.
type JobFunc func(ec *ExecutionContext) error

// Registration binds an identifier to a job function and its typed
// parameter struct.
type Registration struct {
	Identifier  string
	Description string
	Fn          JobFunc

	// NewParams returns a pointer to a zero value of the parameter
	// struct. Nil means the job takes no parameters.
	NewParams func() interface{}

	// Validate runs cross-field checks after tag validation. Optional.
	Validate func(params interface{}) error
}

// Registry is the process-wide identifier-to-job mapping. Jobs are
// registered explicitly at composition time.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Registration
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]Registration),
		validate: validator.New(),
	}
}

// Register adds a job registration. Re-registering an identifier is a
// programming error and panics.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.Identifier]; exists {
		panic("cron: duplicate job identifier " + reg.Identifier)
	}
	r.entries[reg.Identifier] = reg
}

// Lookup returns the registration for an identifier
func (r *Registry) Lookup(identifier string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[identifier]
	return reg, ok
}

// Identifiers lists the registered identifiers, sorted
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DecodeParams decodes and validates raw JSON parameters against the
// identifier's registered struct. Unknown identifiers and validation
// failures come back as typed errors.
func (r *Registry) DecodeParams(identifier string, raw []byte) (interface{}, error) {
	reg, ok := r.Lookup(identifier)
	if !ok {
		return nil, errs.NotFound("unknown cron job identifier %q", identifier)
	}
	if reg.NewParams == nil {
		return nil, nil
	}

	params := reg.NewParams()
	if len(raw) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(params); err != nil {
			return nil, errs.Validation("invalid params for %s: %v", identifier, err)
		}
	}

	if err := r.validate.Struct(params); err != nil {
		return nil, errs.Validation("invalid params for %s: %v", identifier, err)
	}
	if reg.Validate != nil {
		if err := reg.Validate(params); err != nil {
			return nil, err
		}
	}
	return params, nil
}
