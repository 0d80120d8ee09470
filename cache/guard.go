package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// CircularMarker replaces a reference that SafeStringify meets a second time.
const CircularMarker = "[Circular]"

var timeType = reflect.TypeOf(time.Time{})

// IsRepresentable reports whether v can be stored by every backend as is.
//
// Representable values are nil, booleans, integers, finite floats, strings,
// time.Time, slices and arrays of representable elements, maps keyed by
// strings whose values are representable, and pointers or interfaces holding
// any of those. Functions, channels, complex numbers, structs other than
// time.Time and cyclic graphs are not.
func IsRepresentable(v any) bool {
	w := walker{ancestors: make(map[ref]bool)}
	return w.representable(reflect.ValueOf(v))
}

// Sanitize returns v unchanged when it is representable. Otherwise it returns a
// projection built from map[string]any, []any and representable leaves:
//   - struct fields are projected under their JSON names; `json:"-"` is skipped
//   - record fields that cannot be represented at all are dropped
//   - slice elements that cannot be represented become nil
//   - NaN, infinities and cyclic back-references become nil
//
// The result always satisfies IsRepresentable.
func Sanitize(v any) any {
	if IsRepresentable(v) {
		return v
	}
	p := projector{visited: make(map[ref]bool)}
	out, _ := p.project(reflect.ValueOf(v))
	return out
}

// SafeStringify encodes v as JSON after projecting it like Sanitize. Within one
// call every pointer, map or non-empty slice seen a second time is written as
// CircularMarker instead of being walked again. It returns false only when the
// projection cannot be encoded.
func SafeStringify(v any) (s string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s, ok = "", false
		}
	}()

	p := projector{visited: make(map[ref]bool), marker: true}
	out, _ := p.project(reflect.ValueOf(v))
	data, err := json.Marshal(out)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ref identifies a reference value for cycle tracking.
type ref struct {
	typ reflect.Type
	ptr uintptr
	len int
}

func refOf(v reflect.Value) (ref, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return ref{}, false
		}
		return ref{typ: v.Type(), ptr: v.Pointer()}, true
	case reflect.Slice:
		// Empty slices may share the runtime's zero-size base address.
		if v.Len() == 0 {
			return ref{}, false
		}
		return ref{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}, true
	default:
		return ref{}, false
	}
}

type walker struct {
	ancestors map[ref]bool
}

func (w *walker) enter(v reflect.Value) (leave func(), cyclic bool) {
	r, ok := refOf(v)
	if !ok {
		return func() {}, false
	}
	if w.ancestors[r] {
		return nil, true
	}
	w.ancestors[r] = true
	return func() { delete(w.ancestors, r) }, false
}

func (w *walker) representable(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true

	case reflect.Float32, reflect.Float64:
		return finite(v.Float())

	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return w.representable(v.Elem())

	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return false
		}
		defer leave()
		return w.representable(v.Elem())

	case reflect.Struct:
		return v.Type() == timeType

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return true
		}
		if plainElem(v.Type().Elem()) {
			return true
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return false
		}
		defer leave()
		for i := 0; i < v.Len(); i++ {
			if !w.representable(v.Index(i)) {
				return false
			}
		}
		return true

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		if v.IsNil() {
			return true
		}
		leave, cyclic := w.enter(v)
		if cyclic {
			return false
		}
		defer leave()
		iter := v.MapRange()
		for iter.Next() {
			if !w.representable(iter.Value()) {
				return false
			}
		}
		return true

	default:
		// Func, Chan, Complex64/128, UnsafePointer, Uintptr.
		return false
	}
}

// projector builds the sanitized projection of a value. With marker set it
// keeps every reference it has seen and substitutes CircularMarker on a
// revisit; otherwise it only tracks the current path and drops back-references.
type projector struct {
	visited map[ref]bool
	marker  bool
}

// project returns the projection of v and false when v cannot be represented
// at all, in which case a record drops the field and a slice stores nil.
func (p *projector) project(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Interface(), true

	case reflect.Float32, reflect.Float64:
		if !finite(v.Float()) {
			return nil, true
		}
		return v.Interface(), true

	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return p.project(v.Elem())

	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		leave, revisit := p.enter(v)
		if revisit {
			return p.revisited(), true
		}
		defer leave()
		return p.project(v.Elem())

	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface(), true
		}
		out := make(map[string]any, v.NumField())
		p.projectStruct(v, out)
		return out, true

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, true
		}
		leave, revisit := p.enter(v)
		if revisit {
			return p.revisited(), true
		}
		defer leave()
		if plainElem(v.Type().Elem()) {
			return v.Interface(), true
		}
		out := make([]any, v.Len())
		for i := range out {
			if elem, ok := p.project(v.Index(i)); ok {
				out[i] = elem
			}
		}
		return out, true

	case reflect.Map:
		keyOf, ok := mapKeyFormatter(v.Type().Key())
		if !ok {
			return nil, false
		}
		if v.IsNil() {
			return nil, true
		}
		leave, revisit := p.enter(v)
		if revisit {
			return p.revisited(), true
		}
		defer leave()
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			if elem, ok := p.project(iter.Value()); ok {
				out[keyOf(iter.Key())] = elem
			}
		}
		return out, true

	default:
		return nil, false
	}
}

func (p *projector) projectStruct(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)

		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if !field.IsExported() {
					continue
				}
				if fv.Kind() != reflect.Pointer {
					p.projectStruct(fv, out)
					continue
				}
				if fv.IsNil() {
					continue
				}
				// A revisited embedded pointer contributes no promoted fields.
				leave, revisit := p.enter(fv)
				if revisit {
					continue
				}
				p.projectStruct(fv.Elem(), out)
				leave()
				continue
			}
		}

		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if elem, ok := p.project(fv); ok {
			out[name] = elem
		}
	}
}

func (p *projector) enter(v reflect.Value) (leave func(), revisit bool) {
	r, ok := refOf(v)
	if !ok {
		return func() {}, false
	}
	if p.visited[r] {
		return nil, true
	}
	p.visited[r] = true
	if p.marker {
		return func() {}, false
	}
	return func() { delete(p.visited, r) }, false
}

func (p *projector) revisited() any {
	if p.marker {
		return CircularMarker
	}
	return nil
}

func jsonFieldName(f reflect.StructField) (name string, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, false
}

func mapKeyFormatter(t reflect.Type) (func(reflect.Value) string, bool) {
	switch t.Kind() {
	case reflect.String:
		return func(k reflect.Value) string { return k.String() }, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Bool:
		return func(k reflect.Value) string { return fmt.Sprint(k.Interface()) }, true
	default:
		return nil, false
	}
}

// plainElem reports whether every value of t is representable without a walk.
func plainElem(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return t == timeType
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
