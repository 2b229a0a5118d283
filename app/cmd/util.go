package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// readConfigMap loads config.yaml as a generic map so dotted keys can address
// arbitrary fields. A missing file is an empty config, not an error.
func readConfigMap(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return data, nil
}

func writeConfigMap(path string, data map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// descend walks all but the last segment of a dotted key, optionally creating
// intermediate maps, and returns the map holding the final segment.
func descend(data map[string]interface{}, key string, create bool) (map[string]interface{}, string, bool) {
	segments := strings.Split(key, ".")
	current := data
	for _, segment := range segments[:len(segments)-1] {
		child, ok := current[segment].(map[string]interface{})
		if !ok {
			if !create {
				return nil, "", false
			}
			child = map[string]interface{}{}
			current[segment] = child
		}
		current = child
	}
	return current, segments[len(segments)-1], true
}

func getConfigValue(data map[string]interface{}, key string) (interface{}, bool) {
	parent, leaf, ok := descend(data, key, false)
	if !ok {
		return nil, false
	}
	value, ok := parent[leaf]
	return value, ok
}

func setConfigValue(data map[string]interface{}, key string, value interface{}) error {
	parent, leaf, _ := descend(data, key, true)
	parent[leaf] = value
	return nil
}

// parseValue coerces CLI input so "true" and "10" round-trip as yaml bool and
// int rather than quoted strings.
func parseValue(input string) interface{} {
	if b, err := strconv.ParseBool(input); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(input, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	return input
}

func prettyValue(v interface{}) string {
	switch value := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, prettyValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		raw, _ := yaml.Marshal(value)
		return strings.TrimSpace(string(raw))
	default:
		return fmt.Sprint(value)
	}
}
