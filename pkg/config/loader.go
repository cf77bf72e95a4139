// Package config loads gateway configuration from struct tag defaults, an
// optional YAML or JSON file and the process environment, in that order of
// increasing precedence.
//
// Fields opt in through tags:
//
//	env:"NAME"          environment variable (joined to the loader prefix and
//	                    any parent struct's env tag with "_")
//	envDefault:"value"  applied when the field is still zero
//	required:"true"     field must be non-zero after loading
//	validate:"..."      go-playground/validator rules, checked last
//
// A struct implementing [Validator] gets its Validate method called once
// the tag checks pass.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// LookupFunc resolves an environment key. os.LookupEnv is the default.
type LookupFunc func(key string) (string, bool)

// Loader resolves configuration into a struct. It is not safe for
// concurrent use.
type Loader struct {
	prefix string
	file   string
	lookup LookupFunc
}

// New returns a Loader reading only the process environment.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix upper-cases prefix and prepends it to every env key.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = strings.ToUpper(strings.TrimSuffix(prefix, "_"))
	return l
}

// WithFile sets a .yaml, .yml or .json file to read before the
// environment. A missing file is skipped.
func (l *Loader) WithFile(path string) *Loader {
	l.file = path
	return l
}

// WithLookup replaces the environment source. Tests use it to avoid
// mutating the process environment.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: Load needs a non-nil pointer to a struct, got %T", cfg)
	}
	root := rv.Elem()

	err := walk(root, "", func(f field) error {
		def, ok := f.tag.Lookup("envDefault")
		if !ok || !f.value.IsZero() {
			return nil
		}
		if err := assign(f.value, def); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: default for %s", f.path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.readFile(cfg); err != nil {
		return err
	}

	err = walk(root, l.prefix, func(f field) error {
		if f.envKey == "" {
			return nil
		}
		raw, ok := l.lookup(f.envKey)
		if !ok {
			return nil
		}
		if err := assign(f.value, raw); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: %s from %s", f.path, f.envKey)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return validate(cfg, root)
}

// MustLoad loads a T or panics. Intended for main.
func MustLoad[T any](l *Loader) T {
	var cfg T
	if err := l.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func (l *Loader) readFile(cfg any) error {
	if l.file == "" {
		return nil
	}
	if strings.Contains(l.file, "..") {
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: file path %q contains a parent reference", l.file)
	}

	data, err := os.ReadFile(l.file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "config: read %s", l.file)
	}

	switch ext := strings.ToLower(filepath.Ext(l.file)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "config: parse %s", l.file)
	}
	return nil
}

// field is one settable leaf visited by walk.
type field struct {
	value  reflect.Value
	tag    reflect.StructTag
	path   string
	envKey string
}

// walk visits every settable leaf field of rv depth first. Nested structs
// (other than leaf types such as time.Duration) contribute their env tag
// to the key of their children.
func walk(rv reflect.Value, prefix string, fn func(field) error) error {
	return walkPath(rv, prefix, "", fn)
}

func walkPath(rv reflect.Value, prefix, path string, fn func(field) error) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		name := sf.Name
		if path != "" {
			name = path + "." + sf.Name
		}
		env := sf.Tag.Get("env")

		if fv.Kind() == reflect.Struct && !isLeaf(fv.Type()) {
			if err := walkPath(fv, join(prefix, env), name, fn); err != nil {
				return err
			}
			continue
		}

		key := ""
		if env != "" {
			key = join(prefix, env)
		}
		if err := fn(field{value: fv, tag: sf.Tag, path: name, envKey: key}); err != nil {
			return err
		}
	}
	return nil
}

func join(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}
