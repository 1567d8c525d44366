package frontmatter

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Serialize encodes Fields as YAML without delimiters. Keys are sorted,
// recursively, so regenerating an artifact from the same proposal is
// byte-stable.
func Serialize(fields Fields) ([]byte, error) {
	if len(fields) == 0 {
		return []byte{}, nil
	}

	node, err := mappingNode(fields)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compose renders a complete artifact: delimited frontmatter followed by the
// markdown body. An empty Fields yields the body unchanged.
func Compose(fields Fields, body []byte) ([]byte, error) {
	head, err := Serialize(fields)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return body, nil
	}

	out := make([]byte, 0, len(head)+len(body)+8)
	out = append(out, "---\n"...)
	out = append(out, head...)
	out = append(out, "---\n"...)
	out = append(out, body...)
	return out, nil
}

func mappingNode(m map[string]any) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		child, err := valueNode(m[k])
		if err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			child)
	}
	return node, nil
}

func valueNode(v any) (*yaml.Node, error) {
	switch value := v.(type) {
	case map[string]any:
		return mappingNode(value)
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range value {
			child, err := valueNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case []string:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range value {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(v); err != nil {
			return nil, fmt.Errorf("encode frontmatter value %v: %w", v, err)
		}
		return node, nil
	}
}
