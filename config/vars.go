package config

import (
	"fmt"
	"sort"

	"emperror.dev/errors"
	"gopkg.in/yaml.v3"
)

// Var is a single key/value override.
type Var struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Vars is an ordered list of overrides. Keys are unique and keep the position
// of their first declaration.
type Vars []Var

// Get returns the value for the key, if set.
func (v Vars) Get(key string) (string, bool) {
	for _, kv := range v {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key or appends a new one.
func (v Vars) Set(key, value string) Vars {
	for i := range v {
		if v[i].Key == key {
			v[i].Value = value
			return v
		}
	}
	return append(v, Var{Key: key, Value: value})
}

// Merge returns a copy of v with every entry in o applied on top of it.
func (v Vars) Merge(o Vars) Vars {
	out := make(Vars, len(v), len(v)+len(o))
	copy(out, v)
	for _, kv := range o {
		out = out.Set(kv.Key, kv.Value)
	}
	return out
}

func (v *Vars) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("config: line %d: expected a mapping of variables", n.Line)
	}
	out := make(Vars, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, val := n.Content[i], n.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return errors.Errorf("config: line %d: variable %q must be a scalar value", val.Line, k.Value)
		}
		if _, ok := out.Get(k.Value); ok {
			return errors.Errorf("config: line %d: variable %q is defined more than once", k.Line, k.Value)
		}
		out = append(out, Var{Key: k.Value, Value: val.Value})
	}
	*v = out
	return nil
}

// UnmarshalTOML receives the decoded table. Table order is not available here
// so entries are sorted by key; the loader restores declaration order once the
// whole document has been parsed.
func (v *Vars) UnmarshalTOML(data interface{}) error {
	m, ok := data.(map[string]interface{})
	if !ok {
		return errors.Errorf("config: expected a table of variables, got %T", data)
	}
	out := make(Vars, 0, len(m))
	for k, val := range m {
		switch val.(type) {
		case map[string]interface{}, []interface{}, []map[string]interface{}:
			return errors.Errorf("config: variable %q must be a scalar value", k)
		}
		out = append(out, Var{Key: k, Value: fmt.Sprint(val)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	*v = out
	return nil
}

// reorder sorts the entries so that keys listed in order come first, in that
// order. Unknown keys keep their relative position at the end.
func (v Vars) reorder(order []string) {
	pos := make(map[string]int, len(order))
	for i, k := range order {
		if _, ok := pos[k]; !ok {
			pos[k] = i
		}
	}
	sort.SliceStable(v, func(i, j int) bool {
		pi, iok := pos[v[i].Key]
		pj, jok := pos[v[j].Key]
		if iok && jok {
			return pi < pj
		}
		return iok && !jok
	})
}
