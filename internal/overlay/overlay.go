// ABOUTME: Deterministic deep merge of layered probe configuration overlays
// ABOUTME: Maps merge recursively, slices are replaced, and inputs are never mutated

package overlay

import "reflect"

// undefined marks a patch value that must not touch the base.
type undefined struct{}

// Undefined is a patch value meaning "leave the base value alone". A key
// that is simply absent from the patch map has the same effect; Undefined
// exists for callers that build patches with every key present.
var Undefined any = undefined{}

func isUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Merge returns base with patch applied.
//
// When both sides are maps, keys are merged recursively. Any other pairing
// short-circuits: the patch wins unless it is Undefined. Slices are
// replaced wholesale. A nil patch value inside a map explicitly sets nil.
// The result never shares containers with either input.
func Merge(base, patch any) any {
	if isUndefined(patch) {
		return Clone(base)
	}

	baseMap, baseOK := asMap(base)
	patchMap, patchOK := asMap(patch)
	if !baseOK || !patchOK {
		return Clone(patch)
	}

	out := make(map[string]any, len(baseMap)+len(patchMap))
	for k, v := range baseMap {
		out[k] = Clone(v)
	}
	for k, v := range patchMap {
		if isUndefined(v) {
			continue
		}
		if existing, ok := baseMap[k]; ok {
			out[k] = Merge(existing, v)
			continue
		}
		out[k] = Clone(v)
	}
	return out
}

// MergeAll folds patches onto base from left to right.
func MergeAll(base map[string]any, patches ...map[string]any) map[string]any {
	var result any = Clone(base)
	if result == nil {
		result = map[string]any{}
	}
	for _, p := range patches {
		if p == nil {
			continue
		}
		result = Merge(result, p)
	}

	m, ok := result.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// Clone deep-copies maps and slices. Scalars are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case undefined:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		elem := rv.Type().Elem()
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneValue(elem, rv.Index(i)))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		elem := rv.Type().Elem()
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(elem, iter.Value()))
		}
		return out.Interface()
	}
	return v
}

// cloneValue clones one element of a typed container and converts the copy
// back to the container's element type.
func cloneValue(elem reflect.Type, v reflect.Value) reflect.Value {
	c := Clone(v.Interface())
	if c == nil {
		return reflect.Zero(elem)
	}
	cv := reflect.ValueOf(c)
	if !cv.Type().AssignableTo(elem) {
		cv = cv.Convert(elem)
	}
	return cv
}

// asMap accepts map[string]any and any other map keyed by string
// (map[string]string from TOML, for instance).
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// Loader merges overlays onto a fixed set of defaults.
type Loader struct {
	defaults map[string]any
}

// NewLoader returns a Loader over a private copy of defaults.
func NewLoader(defaults map[string]any) *Loader {
	return &Loader{defaults: MergeAll(defaults)}
}

// Defaults returns a copy of the loader's defaults.
func (l *Loader) Defaults() map[string]any {
	return MergeAll(l.defaults)
}

// Merge applies patches in order on top of the defaults.
func (l *Loader) Merge(patches ...map[string]any) map[string]any {
	return MergeAll(l.defaults, patches...)
}
