package workflow

import (
	"fmt"
	"reflect"
)

// Field declares how one field of the state S is merged when a node
// returns a partial update.
type Field[S any] struct {
	name  string
	merge func(dst, src *S)
	addr  func(s *S) uintptr
}

// Name returns the struct field this policy covers.
func (f Field[S]) Name() string { return f.name }

// Overwrite is last-writer-wins: a non-zero value in the update replaces
// the current value. Zero values mean "no update".
func Overwrite[S, T any](name string, get func(*S) *T) Field[S] {
	return Field[S]{
		name: name,
		merge: func(dst, src *S) {
			v := get(src)
			if reflect.ValueOf(v).Elem().IsZero() {
				return
			}
			*get(dst) = *v
		},
		addr: func(s *S) uintptr { return reflect.ValueOf(get(s)).Pointer() },
	}
}

// Append concatenates the update's elements onto the current slice, so
// concurrent branches each contribute without clobbering.
func Append[S, T any](name string, get func(*S) *[]T) Field[S] {
	return Field[S]{
		name: name,
		merge: func(dst, src *S) {
			if add := *get(src); len(add) > 0 {
				d := get(dst)
				*d = append(append([]T(nil), *d...), add...)
			}
		},
		addr: func(s *S) uintptr { return reflect.ValueOf(get(s)).Pointer() },
	}
}

// Schema is the complete merge policy of a state struct.
type Schema[S any] struct {
	fields []Field[S]
}

// NewSchema checks that every exported field of S has exactly one policy
// and that each policy's accessor really points at the named field.
func NewSchema[S any](fields ...Field[S]) (*Schema[S], error) {
	var sample S
	rv := reflect.ValueOf(&sample).Elem()
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("workflow state must be a struct, got %s", rv.Kind())
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.name] {
			return nil, fmt.Errorf("field %q declared twice", f.name)
		}
		seen[f.name] = true

		sf := rv.FieldByName(f.name)
		if !sf.IsValid() {
			return nil, fmt.Errorf("field %q not found in %s", f.name, rv.Type())
		}
		if sf.Addr().Pointer() != f.addr(&sample) {
			return nil, fmt.Errorf("field %q: accessor points at a different field", f.name)
		}
	}

	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		if sf := t.Field(i); sf.IsExported() && !seen[sf.Name] {
			return nil, fmt.Errorf("field %q has no merge policy", sf.Name)
		}
	}
	return &Schema[S]{fields: fields}, nil
}

// MustSchema is NewSchema for package-level declarations.
func MustSchema[S any](fields ...Field[S]) *Schema[S] {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Merge folds update into state.
func (s *Schema[S]) Merge(state *S, update S) {
	for _, f := range s.fields {
		f.merge(state, &update)
	}
}
