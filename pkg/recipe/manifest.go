package recipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest file names, in lookup order.
const (
	ManifestFile     = "manifest.json"
	ManifestFileYAML = "manifest.yaml"
	ManifestFileYML  = "manifest.yml"
)

const copyFromRecipeKey = "copy-from-recipe"

// ErrNotMapping is returned when a manifest document is not a mapping.
var ErrNotMapping = errors.New("recipe: manifest is not a mapping")

// ParseManifestJSON parses a JSON manifest, keeping copy rule order.
func ParseManifestJSON(data []byte) (Manifest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrNotMapping, err)
	}
	if raw == nil {
		return Manifest{}, ErrNotMapping
	}

	m := Manifest{Raw: raw}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrNotMapping, err)
	}
	if rules, ok := fields[copyFromRecipeKey]; ok {
		m.CopyFromRecipe = orderedJSONRules(rules)
	}

	return m, nil
}

// orderedJSONRules walks a JSON object token by token so rules keep their
// declaration order. Anything other than an object yields no rules.
func orderedJSONRules(data json.RawMessage) []CopyRule {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var rules []CopyRule
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return rules
		}
		source, ok := tok.(string)
		if !ok {
			return rules
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return rules
		}
		destination, _ := value.(string)
		rules = append(rules, CopyRule{Source: source, Destination: destination})
	}
	return rules
}

// ParseManifestYAML parses a YAML manifest, keeping copy rule order.
func ParseManifestYAML(data []byte) (Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrNotMapping, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return Manifest{}, ErrNotMapping
	}
	root := doc.Content[0]

	var raw map[string]interface{}
	if err := root.Decode(&raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrNotMapping, err)
	}
	if raw == nil {
		raw = make(map[string]interface{})
	}

	m := Manifest{Raw: raw}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != copyFromRecipeKey {
			continue
		}
		rules := root.Content[i+1]
		if rules.Kind != yaml.MappingNode {
			break
		}
		for j := 0; j+1 < len(rules.Content); j += 2 {
			rule := CopyRule{Source: rules.Content[j].Value}
			if rules.Content[j+1].Kind == yaml.ScalarNode {
				rule.Destination = rules.Content[j+1].Value
			}
			m.CopyFromRecipe = append(m.CopyFromRecipe, rule)
		}
		break
	}

	return m, nil
}
