package reagent

import "reflect"

// valuesEqual provides type-appropriate equality checking for cell
// writes. Uses == for common scalar types and reflect.DeepEqual for
// everything else, so writing an equal value is a no-op regardless of
// whether the value is a scalar or a composite.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int8:
		bv, ok := b.(int8)
		return ok && av == bv
	case int16:
		bv, ok := b.(int16)
		return ok && av == bv
	case int32:
		bv, ok := b.(int32)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case uint:
		bv, ok := b.(uint)
		return ok && av == bv
	case uint8:
		bv, ok := b.(uint8)
		return ok && av == bv
	case uint16:
		bv, ok := b.(uint16)
		return ok && av == bv
	case uint32:
		bv, ok := b.(uint32)
		return ok && av == bv
	case uint64:
		bv, ok := b.(uint64)
		return ok && av == bv
	case float32:
		bv, ok := b.(float32)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case *Cell:
		bv, ok := b.(*Cell)
		return ok && av == bv
	default:
		// Maps, slices, and structs compare structurally. Two
		// references to the same underlying map are equal here, which
		// is what makes rewriting the same object a no-op.
		return reflect.DeepEqual(a, b)
	}
}
