package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Model is a registry of entity types. Register types and members, then
// call Build once before handing the model to a session.
type Model struct {
	types  []*MetaType
	byType map[reflect.Type]*MetaType
	byName map[string]*MetaType
	errs   []error
	built  bool
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		byType: make(map[reflect.Type]*MetaType),
		byName: make(map[string]*MetaType),
	}
}

func (m *Model) fail(format string, args ...any) {
	m.errs = append(m.errs, fmt.Errorf(format, args...))
}

func (m *Model) register(t *MetaType) {
	if _, dup := m.byType[t.goType]; dup {
		m.fail("type %s registered twice", t.name)
		return
	}
	m.types = append(m.types, t)
	m.byType[t.goType] = t
	m.byName[t.name] = t
}

// Build resolves member ordinals, keys, inverse associations, auto-sync
// defaults and inheritance. It reports every registration error found.
func (m *Model) Build() error {
	if m.built {
		return nil
	}
	errs := append([]error(nil), m.errs...)

	ordered := append([]*MetaType(nil), m.types...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth(ordered[i]) < depth(ordered[j])
	})
	for _, t := range ordered {
		if err := t.build(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, t := range ordered {
		for _, a := range t.declaredAssocs {
			if err := a.resolveKeys(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, t := range ordered {
		for _, a := range t.declaredAssocs {
			if err := a.resolveInverse(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, t := range ordered {
		t.buildAssociations()
	}
	for _, t := range ordered {
		if err := t.buildInheritance(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.built = true
	return nil
}

func depth(t *MetaType) int {
	d := 0
	for b := t.base; b != nil; b = b.base {
		d++
	}
	return d
}

// TypeOf returns the MetaType registered for entity's dynamic type.
func (m *Model) TypeOf(entity any) (*MetaType, error) {
	if entity == nil {
		return nil, fmt.Errorf("nil entity: %w", types.ErrInvalidEntity)
	}
	t, ok := m.byType[reflect.TypeOf(entity)]
	if !ok {
		return nil, fmt.Errorf("%T: %w", entity, types.ErrTypeNotRegistered)
	}
	return t, nil
}

// TypeFor returns the MetaType registered for T.
func TypeFor[T any](m *Model) (*MetaType, error) {
	t, ok := m.byType[reflect.TypeFor[*T]()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", reflect.TypeFor[T](), types.ErrTypeNotRegistered)
	}
	return t, nil
}

// Lookup returns the type registered under name.
func (m *Model) Lookup(name string) (*MetaType, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Types returns the registered types in registration order.
func (m *Model) Types() []*MetaType {
	return m.types
}

// IsBuilt reports whether Build succeeded.
func (m *Model) IsBuilt() bool {
	return m.built
}
