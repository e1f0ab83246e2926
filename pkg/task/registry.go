package task

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]reflect.Type{}
)

// Register records a task type under its family name so Decode can rebuild
// instances from the wire form. Call it from an init function of the
// package defining the task. Registering the same family twice panics,
// because it means two types would silently share an identity space.
func Register(t Task) {
	family := t.Family()
	if family == "" || !strings.Contains(family, "/") {
		panic(fmt.Sprintf("task family %q must be namespace/name", family))
	}
	tp := reflect.TypeOf(t)
	for tp.Kind() == reflect.Pointer {
		tp = tp.Elem()
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[family]; ok && existing != tp {
		panic(fmt.Sprintf("task family %q registered twice: %s and %s", family, existing, tp))
	}
	registry[family] = tp
}

// Serialized is the wire form of a task: enough to recreate it elsewhere.
type Serialized struct {
	Family  string          `json:"family"`
	ID      string          `json:"id"`
	Params  json.RawMessage `json:"params"`
	Version *string         `json:"version,omitempty"`
}

// SplitFamily breaks a family into its namespace and name halves.
func SplitFamily(family string) (namespace, name string) {
	idx := strings.LastIndex(family, "/")
	if idx < 0 {
		return "", family
	}
	return family[:idx], family[idx+1:]
}

// Serialize renders a task into its wire form. The params blob includes
// every exported field, hash-excluded ones too; the exclusion only affects
// identity, not transport.
func Serialize(t Task) (Serialized, error) {
	id, err := ID(t)
	if err != nil {
		return Serialized{}, err
	}
	params, err := json.Marshal(t)
	if err != nil {
		return Serialized{}, fmt.Errorf("marshal params of %s: %w", t.Family(), err)
	}
	s := Serialized{Family: t.Family(), ID: id, Params: params}
	if v, ok := t.(Versioned); ok && v.TaskVersion() != "" {
		version := v.TaskVersion()
		s.Version = &version
	}
	return s, nil
}

// Decode rebuilds a task from its wire form using the registered type.
func Decode(s Serialized) (Task, error) {
	registryMu.RLock()
	tp, ok := registry[s.Family]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task family %q is not registered", s.Family)
	}
	value := reflect.New(tp)
	if len(s.Params) > 0 {
		if err := json.Unmarshal(s.Params, value.Interface()); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", s.Family, err)
		}
	}
	t, ok := value.Interface().(Task)
	if !ok {
		// Registered via value receiver.
		t, ok = value.Elem().Interface().(Task)
		if !ok {
			return nil, fmt.Errorf("type %s does not implement Task", tp)
		}
	}
	return t, nil
}
