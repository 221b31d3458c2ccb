package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region field-access

// Field walks nested struct fields and returns nil when any step is missing.
func Field(s *structpb.Struct, path ...string) *structpb.Value {
	if s == nil || len(path) == 0 {
		return nil
	}
	cur := s
	for i, key := range path {
		v, ok := cur.GetFields()[key]
		if !ok || v == nil {
			return nil
		}
		if i == len(path)-1 {
			return v
		}
		cur = v.GetStructValue()
		if cur == nil {
			return nil
		}
	}
	return nil
}

// String returns the string at path, or "" when absent or not a string.
func String(s *structpb.Struct, path ...string) string {
	v := Field(s, path...)
	if v == nil {
		return ""
	}
	if _, ok := v.GetKind().(*structpb.Value_StringValue); !ok {
		return ""
	}
	return v.GetStringValue()
}

// StringList returns the string elements of a list value. Non-string elements are dropped.
func StringList(v *structpb.Value) []string {
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		if _, ok := item.GetKind().(*structpb.Value_StringValue); !ok {
			continue
		}
		if s := strings.TrimSpace(item.GetStringValue()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StringMap returns the string-valued entries of the object at path.
func StringMap(s *structpb.Struct, path ...string) map[string]string {
	obj := Field(s, path...).GetStructValue()
	if obj == nil {
		return nil
	}
	out := make(map[string]string, len(obj.GetFields()))
	for k, v := range obj.GetFields() {
		if _, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out[k] = v.GetStringValue()
		}
	}
	return out
}

// #endregion field-access

// #region depends-on

// DependsOn resolves a spec's declared prerequisites. The structured config.dependsOn
// wins; the raw source's context.dependsOn is used only when the former is empty.
func DependsOn(config, rawSource *structpb.Struct) []string {
	if deps := StringList(Field(config, "dependsOn")); len(deps) > 0 {
		return deps
	}
	return StringList(Field(rawSource, "context", "dependsOn"))
}

// #endregion depends-on

// #region decode

// Decode converts a structured value into out through its canonical JSON form.
func Decode(v *structpb.Value, out any) error {
	data, err := protojson.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// DecodeList decodes the list stored under the first present key. Each element is
// decoded independently so one malformed entry does not hide the rest; errs is indexed
// alongside the returned items (nil entries for elements that decoded cleanly).
// found is false when none of the keys are present.
func DecodeList[T any](s *structpb.Struct, keys ...string) (items []T, errs []error, found bool) {
	for _, key := range keys {
		v := Field(s, key)
		if v == nil {
			continue
		}
		list := v.GetListValue()
		if list == nil {
			return nil, []error{fmt.Errorf("%q is not a list", key)}, true
		}
		items = make([]T, len(list.GetValues()))
		errs = make([]error, len(list.GetValues()))
		for i, elem := range list.GetValues() {
			if err := Decode(elem, &items[i]); err != nil {
				errs[i] = fmt.Errorf("%s[%d]: %w", key, i, err)
			}
		}
		return items, errs, true
	}
	return nil, nil, false
}

// #endregion decode

// #region constructors

// NewConfig builds a structured payload from plain Go values (maps, slices, numbers,
// strings, bools). Intended for tests and fixtures.
func NewConfig(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(normalize(m).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("build config: %w", err)
	}
	return s, nil
}

// normalize rewrites typed slices and maps (e.g. []string, []map[string]any) into the
// []any / map[string]any shapes structpb accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = x
		}
		return out
	default:
		return v
	}
}

// #endregion constructors
