package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned for keys that are not part of Config.
var ErrUnknownKey = errors.New("unknown config key")

// Flatten returns cfg as dotted keys (chunk.max_tokens) mapped to display
// strings. Lists are comma-joined.
func Flatten(cfg Config) (map[string]string, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten configuration: %w", err)
	}
	out := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		out[key] = display(k.Get(key))
	}
	return out, nil
}

// Keys returns every settable key, sorted.
func Keys() []string {
	flat, err := Flatten(Default())
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Get returns the effective value of key (defaults, file and environment
// applied).
func Get(key string, opts ...LoadOption) (string, error) {
	if !slices.Contains(Keys(), key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	cfg, err := Load(opts...)
	if err != nil {
		return "", err
	}
	flat, err := Flatten(*cfg)
	if err != nil {
		return "", err
	}
	return flat[key], nil
}

// List returns every effective value.
func List(opts ...LoadOption) (map[string]string, error) {
	cfg, err := Load(opts...)
	if err != nil {
		return nil, err
	}
	return Flatten(*cfg)
}

// Save writes key=value to the config file, creating the directory and file
// if they don't exist. The resulting file must still validate. Other keys
// are preserved; comments are not.
func Save(key, value string) error {
	return update(key, func(values map[string]any) {
		setNested(values, strings.Split(key, "."), value)
	})
}

// Unset removes key from the config file so its default applies again.
func Unset(key string) error {
	return update(key, func(values map[string]any) {
		deleteNested(values, strings.Split(key, "."))
	})
}

func update(key string, edit func(map[string]any)) error {
	if !slices.Contains(Keys(), key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	p, err := Path()
	if err != nil {
		return err
	}

	values, err := readFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		values = make(map[string]any)
	}
	edit(values)

	// Validate the edited file on top of defaults before touching disk.
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := setAll(k, values); err != nil {
		return err
	}
	l := &loader{validate: validator.New()}
	if _, err := l.unmarshalAndValidate(k); err != nil {
		return err
	}

	return writeFile(p, values)
}

// writeFile writes values as YAML, atomically.
func writeFile(p string, values map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cannot write config file: %w", err)
	}
	return nil
}

func setNested(m map[string]any, path []string, value string) {
	for _, part := range path[:len(path)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func deleteNested(m map[string]any, path []string) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		return
	}
	deleteNested(next, path[1:])
	if len(next) == 0 {
		delete(m, path[0])
	}
}

func display(v any) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
