package server

import (
	"github.com/northstar-wraith/wraith/config"
)

// Action is a server that has to be started to bring the fleet in line with
// the configuration.
type Action struct {
	Name string
	Spec config.ServerSpec
}

// Reconcile returns a start action for every desired server that has no
// record yet, in the order they are desired. Servers that already have a
// record are left alone even when their configuration changed, and records
// that are no longer desired are never touched: see Orphans.
func Reconcile(current *Manager, desired []config.ServerSpec) []Action {
	var actions []Action
	for _, spec := range desired {
		if _, ok := current.Get(spec.Name); ok {
			continue
		}
		actions = append(actions, Action{Name: spec.Name, Spec: spec})
	}
	return actions
}

// Orphans returns the names of every record that is no longer desired, in
// registry order.
func Orphans(current *Manager, desired []config.ServerSpec) []string {
	want := make(map[string]struct{}, len(desired))
	for _, spec := range desired {
		want[spec.Name] = struct{}{}
	}
	var out []string
	for _, name := range current.Keys() {
		if _, ok := want[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
