// Package naming normalizes event name tags into the strings used for
// buffering, schema lookup and pattern matching.
package naming

import (
	"fmt"
	"reflect"
	"strconv"
)

// Of returns the string form of an event name tag.
//
// Strings are returned unchanged. Values implementing fmt.Stringer use their
// String method, which covers most enum-like types. Named string and integer
// types without a String method are converted from their underlying value.
// The second result is false when v cannot serve as a name.
func Of(v any) (string, bool) {
	switch n := v.(type) {
	case nil:
		return "", false
	case string:
		return n, true
	case fmt.Stringer:
		return n.String(), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	}
	return "", false
}
