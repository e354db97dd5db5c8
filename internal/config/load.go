package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// loader layers configuration sources.
type loader struct {
	file     string
	explicit bool // file was requested by the caller and must exist
	env      bool
	validate *validator.Validate
}

// LoadOption configures Load.
type LoadOption func(*loader)

// WithFile reads path instead of the default config file. Unlike the default
// file, it must exist.
func WithFile(path string) LoadOption {
	return func(l *loader) {
		if path != "" {
			l.file = ExpandPath(path)
			l.explicit = true
		}
	}
}

// WithoutEnv ignores environment overrides.
func WithoutEnv() LoadOption {
	return func(l *loader) { l.env = false }
}

// Load builds the configuration: defaults, then the YAML file, then
// FABRIC_ANALYZE_* variables. The result is validated.
func Load(opts ...LoadOption) (*Config, error) {
	l := &loader{env: true, validate: validator.New()}
	for _, opt := range opts {
		opt(l)
	}
	if l.file == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		l.file = p
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	values, err := readFile(l.file)
	if err != nil {
		if !os.IsNotExist(err) || l.explicit {
			return nil, err
		}
	}
	if err := setAll(k, values); err != nil {
		return nil, err
	}

	if l.env {
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return transformEnvKey(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	return l.unmarshalAndValidate(k)
}

func (l *loader) unmarshalAndValidate(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

// transformEnvKey maps CHUNK_MAX_TOKENS to chunk.max_tokens: the first part
// is the section, the rest is the field.
func transformEnvKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_'
	})
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return parts[0] + "." + strings.Join(parts[1:], "_")
	}
}

// ---------------------------------------------------------------------------
// YAML file
// ---------------------------------------------------------------------------

// readFile parses the YAML file at path into a nested map. An empty file
// yields an empty map.
func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is the user config file
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return values, nil
}

// setAll copies the flattened values into k.
func setAll(k *koanf.Koanf, values map[string]any) error {
	for key, v := range flattenMap("", values) {
		if err := k.Set(key, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}
