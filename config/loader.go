package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "MESHFLOW"

// Loader builds a Config from defaults, a YAML file and the environment.
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader creates a loader with the MESHFLOW prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup replaces os.LookupEnv.
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator adds a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves defaults, then the YAML file, then the environment, and
// finally runs Validate and any extra validators. Unknown YAML keys are
// errors.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.applyFile(cfg); err != nil {
		return nil, err
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// EnvKeys lists every environment variable the loader consults, sorted.
func (l *Loader) EnvKeys() []string {
	var keys []string
	for _, b := range envBindings(reflect.ValueOf(DefaultConfig()).Elem(), l.envPrefix) {
		keys = append(keys, b.key)
	}
	slices.Sort(keys)
	return keys
}

func (l *Loader) applyFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
	}

	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	var errs []error

	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := l.lookupEnv(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(b.field, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", b.key, raw, err))
		}
	}

	return errors.Join(errs...)
}

// envBinding ties one leaf field of Config to its variable name, built from
// the prefix and the `env` tags along the path (MESHFLOW_STORE_REDIS_ADDR).
type envBinding struct {
	key   string
	field reflect.Value
}

func envBindings(v reflect.Value, prefix string) []envBinding {
	var out []envBinding

	for _, sf := range reflect.VisibleFields(v.Type()) {
		tag := sf.Tag.Get("env")
		if tag == "" || tag == "-" || !sf.IsExported() {
			continue
		}

		key := prefix + "_" + tag
		field := v.FieldByIndex(sf.Index)

		if field.Kind() == reflect.Struct {
			out = append(out, envBindings(field, key)...)
			continue
		}
		out = append(out, envBinding{key: key, field: field})
	}

	return out
}

var durationType = reflect.TypeFor[time.Duration]()

// setters parse a raw variable into a field of the given kind.
var setters = map[reflect.Kind]func(f reflect.Value, raw string) error{
	reflect.String: func(f reflect.Value, raw string) error {
		f.SetString(raw)
		return nil
	},
	reflect.Int: setInt,
	reflect.Int64: func(f reflect.Value, raw string) error {
		if f.Type() != durationType {
			return setInt(f, raw)
		}
		d, err := time.ParseDuration(raw)
		if err == nil {
			f.SetInt(int64(d))
		}
		return err
	},
	reflect.Float64: func(f reflect.Value, raw string) error {
		n, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			f.SetFloat(n)
		}
		return err
	},
	reflect.Bool: func(f reflect.Value, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err == nil {
			f.SetBool(b)
		}
		return err
	},
	// Comma separated list of strings.
	reflect.Slice: func(f reflect.Value, raw string) error {
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", f.Type())
		}
		items := strings.Split(raw, ",")
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
		f.Set(reflect.ValueOf(items))
		return nil
	},
}

func setInt(f reflect.Value, raw string) error {
	n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
	if err == nil {
		f.SetInt(n)
	}
	return err
}

func assign(f reflect.Value, raw string) error {
	set, ok := setters[f.Kind()]
	if !ok {
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return set(f, raw)
}
