package param

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes the environment variable of every parameter.
const DefaultEnvPrefix = "CGEMFLOW_"

// Resolver looks up parameter values in the configured sources.
type Resolver struct {
	args      map[string]string
	file      map[string]string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// ResolverOption configures a Resolver.
type ResolverOption func(r *Resolver)

// WithArgs sets the explicit invocation arguments.
func WithArgs(args map[string]string) ResolverOption {
	return func(r *Resolver) {
		r.args = args
	}
}

// WithFile sets the values read from a parameters file.
func WithFile(values map[string]string) ResolverOption {
	return func(r *Resolver) {
		r.file = values
	}
}

// WithEnvPrefix changes the environment variable prefix. An empty prefix
// disables the environment source.
func WithEnvPrefix(prefix string) ResolverOption {
	return func(r *Resolver) {
		r.envPrefix = prefix
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) ResolverOption {
	return func(r *Resolver) {
		r.lookupEnv = fn
	}
}

// NewResolver creates a resolver. Without options it only reads the
// environment and the declared defaults.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// EnvName returns the environment variable consulted for name.
func (r *Resolver) EnvName(name string) string {
	return r.envPrefix + strings.ToUpper(name)
}

// Resolve returns the value of decl. An optional parameter with no value and
// no default is reported as not set with a nil error.
func (r *Resolver) Resolve(decl Decl) (Value, bool, error) {
	raw, source, ok := r.lookup(decl)
	if !ok {
		if decl.Required {
			return Value{}, false, &MissingParameterError{Name: decl.Name}
		}

		return Value{}, false, nil
	}

	val, err := parse(decl, raw, source)
	if err != nil {
		return Value{}, false, err
	}

	return val, true, nil
}

func (r *Resolver) lookup(decl Decl) (string, Source, bool) {
	if v, ok := r.args[decl.Name]; ok {
		return v, SourceArg, true
	}
	if v, ok := r.file[decl.Name]; ok {
		return v, SourceFile, true
	}
	if r.envPrefix != "" && r.lookupEnv != nil {
		if v, ok := r.lookupEnv(r.EnvName(decl.Name)); ok {
			return v, SourceEnv, true
		}
	}
	if decl.HasDefault {
		return decl.Default, SourceDefault, true
	}

	return "", "", false
}

// ResolveAll resolves decls in order and returns the first error.
// Arguments or file entries naming an undeclared parameter are rejected.
func (r *Resolver) ResolveAll(decls []Decl) (*Set, error) {
	known := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		if _, ok := known[decl.Name]; ok {
			return nil, errors.Wrap(ErrDuplicateParameter, decl.Name)
		}
		known[decl.Name] = struct{}{}
	}

	for _, src := range []map[string]string{r.args, r.file} {
		for name := range src {
			if _, ok := known[name]; !ok {
				return nil, errors.Wrap(ErrUnknownParameter, name)
			}
		}
	}

	set := &Set{
		values: make(map[string]Value, len(decls)),
		decls:  append([]Decl(nil), decls...),
	}
	for _, decl := range decls {
		val, ok, err := r.Resolve(decl)
		if err != nil {
			return nil, err
		}
		if ok {
			set.values[decl.Name] = val
		}
	}

	return set, nil
}

// ParseArgs turns a list of name=value pairs into a map. Later pairs win.
func ParseArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("invalid parameter argument %q, expected name=value", pair)
		}
		out[name] = value
	}

	return out, nil
}

// LoadFile reads a YAML parameters file made of top level scalar entries.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read params file %s", path)
	}

	out := map[string]string{}
	err = yaml.Unmarshal(data, &out)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode params file %s", path)
	}

	return out, nil
}
