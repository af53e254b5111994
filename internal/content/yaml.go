package content

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML document into a Value. An empty document yields an
// empty map.
func ParseYAML(data []byte) (Value, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return EmptyMap(), nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return Value{}, fmt.Errorf("parsing yaml: %w", err)
	}
	v, err := FromYAML(&node)
	if err != nil {
		return Value{}, fmt.Errorf("parsing yaml: %w", err)
	}
	return v, nil
}

// FromYAML converts a decoded yaml.v3 node tree, keeping mapping order.
func FromYAML(n *yaml.Node) (Value, error) {
	if n == nil {
		return Null(), nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return EmptyMap(), nil
		}
		return FromYAML(n.Content[0])
	case yaml.AliasNode:
		return FromYAML(n.Alias)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			item, err := FromYAML(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, items: items}, nil
	case yaml.MappingNode:
		out := EmptyMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Tag == "!!merge" {
				merged, err := FromYAML(v)
				if err != nil {
					return Value{}, err
				}
				for _, p := range merged.Pairs() {
					if _, exists := out.Get(p.Key); !exists {
						out = out.With(p.Key, p.Value)
					}
				}
				continue
			}
			val, err := FromYAML(v)
			if err != nil {
				return Value{}, err
			}
			out = out.With(k.Value, val)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return Value{}, fmt.Errorf("unsupported yaml node kind %d at line %d", n.Kind, n.Line)
}

func scalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, err
		}
		if _, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return Value{kind: KindNumber, s: n.Value}, nil
		}
		return Float(f), nil
	default:
		// timestamps and custom tags stay as their source text
		return String(n.Value), nil
	}
}
