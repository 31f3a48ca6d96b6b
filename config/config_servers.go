package config

import (
	"emperror.dev/errors"
	"gopkg.in/yaml.v3"
)

// ServerList holds the configured servers in declaration order.
type ServerList []*ServerConfig

// Get returns the server with the given name or nil.
func (l ServerList) Get(name string) *ServerConfig {
	for _, sc := range l {
		if sc.name == name {
			return sc
		}
	}
	return nil
}

// Names returns the names of every server, in order.
func (l ServerList) Names() []string {
	out := make([]string, len(l))
	for i, sc := range l {
		out[i] = sc.name
	}
	return out
}

func (l *ServerList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("config: line %d: servers must be a mapping of name to server", n.Line)
	}
	out := make(ServerList, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		sc := &ServerConfig{name: n.Content[i].Value}
		if err := n.Content[i+1].Decode(sc); err != nil {
			return errors.WrapIf(err, "config: failed to decode server "+sc.name)
		}
		out = append(out, sc)
	}
	*l = out
	return nil
}
