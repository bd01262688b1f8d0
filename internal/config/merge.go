package config

import "reflect"

// MergeNonZero returns a copy of base with every non-zero field in overlay
// applied on top. Strings, numbers and durations override when non-zero,
// bools only turn settings on, slices override when non-empty, maps are
// merged with overlay keys winning, and nested structs are recursed.
//
// Endpoint transport settings are built this way from the global defaults.
func MergeNonZero[T any](base, overlay T) T {
	result := base
	mergeValue(reflect.ValueOf(&result).Elem(), reflect.ValueOf(&overlay).Elem())
	return result
}

func mergeValue(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			if dst.Field(i).CanSet() {
				mergeValue(dst.Field(i), src.Field(i))
			}
		}
	case reflect.Map:
		mergeMap(dst, src)
	case reflect.Bool:
		if src.Bool() {
			dst.SetBool(true)
		}
	case reflect.Ptr:
		if !src.IsNil() {
			dst.Set(src)
		}
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

func mergeMap(dst, src reflect.Value) {
	if src.IsNil() || src.Len() == 0 {
		return
	}
	merged := reflect.MakeMap(dst.Type())
	if !dst.IsNil() {
		for _, k := range dst.MapKeys() {
			merged.SetMapIndex(k, dst.MapIndex(k))
		}
	}
	for _, k := range src.MapKeys() {
		merged.SetMapIndex(k, src.MapIndex(k))
	}
	dst.Set(merged)
}
