package task

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ID returns the task's content hash: sha256 over a canonical encoding of
// the family, the code version, and the parameter fields. The hash is
// stable across processes, field ordering, and JSON whitespace.
func ID(t Task) (string, error) {
	params, err := hashableParams(t)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"family": t.Family(),
		"params": params,
	}
	if v, ok := t.(Versioned); ok && v.TaskVersion() != "" {
		payload["version"] = v.TaskVersion()
	}
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize task %s: %w", t.Family(), err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// hashableParams renders the task's exported fields as a map, honoring two
// exclusions: fields tagged `hash:"-"` never participate, and nil optional
// (pointer) fields are omitted so adding an optional parameter does not
// re-key existing tasks.
func hashableParams(t Task) (map[string]any, error) {
	v := reflect.ValueOf(t)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("nil task of type %T", t)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("task %T is not a struct", t)
	}
	out := map[string]any{}
	tp := v.Type()
	for i := 0; i < tp.NumField(); i++ {
		field := tp.Field(i)
		if !field.IsExported() || field.Anonymous {
			continue
		}
		if field.Tag.Get("hash") == "-" {
			continue
		}
		name := jsonName(field)
		if name == "-" {
			continue
		}
		value := v.Field(i)
		if value.Kind() == reflect.Pointer && value.IsNil() {
			continue
		}
		data, err := json.Marshal(value.Interface())
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", field.Name, err)
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field.Name, err)
		}
		out[name] = decoded
	}
	return out, nil
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return field.Name
	}
	return name
}

// canonicalize writes JSON with object keys sorted at every level and no
// insignificant whitespace.
func canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeCanonical(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	}
}
