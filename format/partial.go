package format

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/anyllm/anyllm/core"
	"github.com/anyllm/anyllm/internal/partialjson"
	"github.com/tidwall/gjson"
)

// partialCache memoizes generated partial types, guaranteeing that the same
// target type always maps to the same generated Partial type.
var partialCache sync.Map // reflect.Type -> reflect.Type

// PartialType returns the Partial version of a struct type: every field
// becomes optional with a nil default, nested struct fields (including
// structs inside slices and maps) are recursively converted to their Partial
// form. Non-struct types are returned unchanged; values of such types are
// still produced best-effort by ParsePartial.
//
// reflect cannot construct self-referential struct types, so a field that
// recurses into a type currently being transformed is typed as any.
func PartialType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return t
	}
	if cached, ok := partialCache.Load(t); ok {
		return cached.(reflect.Type)
	}
	built := buildPartial(t, map[reflect.Type]bool{})
	actual, _ := partialCache.LoadOrStore(t, built)
	return actual.(reflect.Type)
}

func buildPartial(t reflect.Type, building map[reflect.Type]bool) reflect.Type {
	if cached, ok := partialCache.Load(t); ok {
		return cached.(reflect.Type)
	}
	building[t] = true
	defer delete(building, t)

	fields := make([]reflect.StructField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Tag.Get("json") == "-" {
			continue
		}
		fields = append(fields, reflect.StructField{
			Name: field.Name,
			Type: partialFieldType(field.Type, building),
			Tag:  field.Tag,
		})
	}
	return reflect.StructOf(fields)
}

// partialFieldType makes one field type optional, recursing through
// containers so nested object types become partial as well.
func partialFieldType(t reflect.Type, building map[reflect.Type]bool) reflect.Type {
	switch t.Kind() {
	case reflect.Ptr:
		return partialFieldType(t.Elem(), building)
	case reflect.Struct:
		if building[t] {
			return reflect.TypeOf((*any)(nil)).Elem()
		}
		return reflect.PointerTo(buildPartial(t, building))
	case reflect.Slice:
		return reflect.SliceOf(elemPartialType(t.Elem(), building))
	case reflect.Map:
		return reflect.MapOf(t.Key(), elemPartialType(t.Elem(), building))
	case reflect.Interface:
		return t
	default:
		return reflect.PointerTo(t)
	}
}

// elemPartialType transforms container element types: structs become their
// partial form, everything else is kept as-is (a container element either
// fully streamed or is not present yet).
func elemPartialType(t reflect.Type, building map[reflect.Type]bool) reflect.Type {
	switch t.Kind() {
	case reflect.Ptr:
		return elemPartialType(t.Elem(), building)
	case reflect.Struct:
		if building[t] {
			return reflect.TypeOf((*any)(nil)).Elem()
		}
		return reflect.PointerTo(buildPartial(t, building))
	case reflect.Slice:
		return reflect.SliceOf(elemPartialType(t.Elem(), building))
	case reflect.Map:
		return reflect.MapOf(t.Key(), elemPartialType(t.Elem(), building))
	default:
		return t
	}
}

// ParsePartial parses possibly-truncated model output text into a partial
// instance of target: the JSON payload is located within text, repaired into
// a syntactically valid document and unmarshaled into the memoized Partial
// type. The returned value is a pointer to the partial struct (or a pointer
// to the plain value for non-struct targets).
//
// A MalformedOutput error is returned only when no JSON payload could be
// located at all. Any other parse failure returns (nil, nil): callers treat a
// nil value as "not enough has streamed yet".
func ParsePartial(text string, target reflect.Type) (any, error) {
	payload, err := partialjson.Locate(text)
	if err != nil {
		return nil, err
	}
	completed := partialjson.Complete(payload)
	if !gjson.Valid(completed) {
		return nil, nil
	}

	for target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	instance := reflect.New(PartialType(target))
	if err := json.Unmarshal([]byte(completed), instance.Interface()); err != nil {
		return nil, nil
	}
	return instance.Interface(), nil
}

// ParsePartialAs is ParsePartial with the target type supplied as a type
// parameter.
func ParsePartialAs[T any](text string) (any, error) {
	return ParsePartial(text, reflect.TypeOf((*T)(nil)).Elem())
}

// Parse parses complete model output text into a value of target, validating
// required fields against the format's schema semantics. Unlike ParsePartial
// it fails loudly: a FormatValidation error is returned when the payload does
// not decode into the target type.
func Parse(text string, target reflect.Type) (any, error) {
	payload, err := partialjson.Locate(text)
	if err != nil {
		return nil, err
	}
	for target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	instance := reflect.New(target)
	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(instance.Interface()); err != nil {
		// Retry tolerating unknown fields; models may add extras.
		instance = reflect.New(target)
		if err := json.Unmarshal([]byte(payload), instance.Interface()); err != nil {
			return nil, core.WrapError(core.KindFormatValidation,
				"output does not match the declared format", err)
		}
	}
	return instance.Interface(), nil
}
