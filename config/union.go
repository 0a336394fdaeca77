package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringList is a list of strings that may be written as a single string,
// in which case it is split on whitespace.
type StringList []string

// NormalizeStringList converts a decoded string or list into a StringList.
func NormalizeStringList(v any) (StringList, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return StringList(strings.Fields(val)), nil
	case []string:
		return StringList(val), nil
	case []any:
		out := make(StringList, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: expected string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	list, err := NormalizeStringList(raw)
	if err != nil {
		return err
	}
	*l = list
	return nil
}

// EnvVar is a single environment assignment.
type EnvVar struct {
	Key   string
	Value string
}

// String renders the assignment as KEY=value.
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// EnvVars is an ordered set of environment assignments. It may be written
// as a mapping (normalised to key order) or as a list of KEY=value strings
// (kept in list order).
type EnvVars []EnvVar

// NormalizeEnvVars converts a decoded mapping or list into EnvVars. List
// entries split at the first '='; an entry without one gets an empty value.
func NormalizeEnvVars(v any) (EnvVars, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(EnvVars, 0, len(keys))
		for _, k := range keys {
			out = append(out, EnvVar{Key: k, Value: scalarString(val[k])})
		}
		return out, nil
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return NormalizeEnvVars(m)
	case []string:
		out := make(EnvVars, 0, len(val))
		for _, s := range val {
			out = append(out, parseAssignment(s))
		}
		return out, nil
	case []any:
		out := make(EnvVars, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: expected KEY=value string, got %T", i, item)
			}
			out = append(out, parseAssignment(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected mapping or list of KEY=value strings, got %T", v)
	}
}

func parseAssignment(s string) EnvVar {
	key, value, _ := strings.Cut(s, "=")
	return EnvVar{Key: key, Value: value}
}

func scalarString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Environ renders the variables in os/exec form.
func (e EnvVars) Environ() []string {
	out := make([]string, len(e))
	for i, v := range e {
		out[i] = v.String()
	}
	return out
}

func (e *EnvVars) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	vars, err := NormalizeEnvVars(raw)
	if err != nil {
		return err
	}
	*e = vars
	return nil
}

func (e EnvVars) MarshalYAML() (any, error) {
	return e.Environ(), nil
}
