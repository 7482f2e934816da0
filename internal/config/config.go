// Package config loads the optional HCL daemon settings file.
//
// Settings here tune how the daemon behaves (logging, metrics, history, job
// parameters). Whether maintenance is enabled, and how often each job runs, lives in
// the repository's own git config and is handled by the configstore package.
package config

import (
	"io"
	"math/big"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/hcl/v2"
)

// EnvarPrefix is prepended to every environment variable consulted by InjectEnvars.
const EnvarPrefix = "REPOKEEPER"

// Schema returns the configuration file schema for T.
func Schema[T any]() (*hcl.AST, error) {
	schema, err := hcl.Schema(new(T))
	return schema, errors.WithStack(err)
}

// Load parses HCL from r into a T, filling unset attributes from vars and applying defaults.
//
// A nil reader yields the defaults plus whatever the environment provides.
func Load[T any](r io.Reader, vars map[string]string) (T, error) {
	var out T
	ast := &hcl.AST{}
	if r != nil {
		var err error
		ast, err = hcl.Parse(r)
		if err != nil {
			return out, errors.Wrap(err, "parse config")
		}
	}
	schema, err := Schema[T]()
	if err != nil {
		return out, err
	}
	ExpandVars(ast, vars)
	InjectEnvars(schema, ast, EnvarPrefix, vars)
	if err := hcl.UnmarshalAST(ast, &out, hcl.HydratedImplicitBlocks(true)); err != nil {
		return out, errors.Wrap(err, "decode config")
	}
	return out, nil
}

// LoadFile is Load for a path. A missing file is not an error when optional is true.
func LoadFile[T any](path string, optional bool, vars map[string]string) (T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && optional {
		return Load[T](nil, vars)
	} else if err != nil {
		var zero T
		return zero, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return Load[T](f, vars)
}

// ParseEnvars returns a map of all environment variables.
func ParseEnvars() map[string]string {
	envars := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envars[key] = value
		}
	}
	return envars
}

// ExpandVars expands environment variable references in HCL strings and heredocs.
func ExpandVars(ast *hcl.AST, vars map[string]string) {
	_ = hcl.Visit(ast, func(node hcl.Node, next func() error) error { //nolint:errcheck
		attr, ok := node.(*hcl.Attribute)
		if ok {
			switch attr := attr.Value.(type) {
			case *hcl.String:
				attr.Str = os.Expand(attr.Str, func(s string) string { return vars[s] })
			case *hcl.Heredoc:
				attr.Doc = os.Expand(attr.Doc, func(s string) string { return vars[s] })
			}
		}
		return next()
	})
}

// InjectEnvars walks the schema and for each attribute not present in the config,
// checks for a corresponding environment variable and injects it.
//
// Environment variable names are derived from the path to the attribute:
// prefix + block names + attr name, joined with "_", uppercased, hyphens replaced with "_".
// e.g. prefix="REPOKEEPER", path=["commit-graph", "changed-paths"] -> "REPOKEEPER_COMMIT_GRAPH_CHANGED_PATHS".
func InjectEnvars(schema *hcl.AST, config *hcl.AST, prefix string, vars map[string]string) {
	root := &section{ast: config}
	root.inject(schema.Entries, []string{prefix}, vars)
	_ = hcl.AddParentRefs(config) //nolint:errcheck
}

// section is either the top level of the document or a block within it.
type section struct {
	ast   *hcl.AST
	block *hcl.Block
}

func (s *section) entries() hcl.Entries {
	if s.block != nil {
		return s.block.Body
	}
	return s.ast.Entries
}

func (s *section) add(entry hcl.Entry) {
	if s.block != nil {
		s.block.Body = append(s.block.Body, entry)
		return
	}
	s.ast.Entries = append(s.ast.Entries, entry)
}

func (s *section) child(name string) *section {
	for _, e := range s.entries() {
		if block, ok := e.(*hcl.Block); ok && block.Name == name {
			return &section{ast: s.ast, block: block}
		}
	}
	return nil
}

func (s *section) has(key string) bool {
	for _, e := range s.entries() {
		if attr, ok := e.(*hcl.Attribute); ok && attr.Key == key {
			return true
		}
	}
	return false
}

func (s *section) inject(schemaEntries hcl.Entries, path []string, vars map[string]string) {
	for _, entry := range schemaEntries {
		switch entry := entry.(type) {
		case *hcl.Attribute:
			typ, ok := entry.Value.(*hcl.Type)
			if !ok || s.has(entry.Key) {
				continue
			}
			val, ok := vars[envarName(append(slices.Clone(path), entry.Key))]
			if !ok {
				continue
			}
			hclVal, err := parseValue(val, typ.Type)
			if err != nil {
				continue
			}
			s.add(&hcl.Attribute{Key: entry.Key, Value: hclVal})

		case *hcl.Block:
			child := s.child(entry.Name)
			if child != nil {
				child.inject(entry.Body, append(path, entry.Name), vars)
				continue
			}
			// Only attach the block if an envar populated it.
			tmp := &section{ast: s.ast, block: &hcl.Block{Name: entry.Name}}
			tmp.inject(entry.Body, append(path, entry.Name), vars)
			if len(tmp.block.Body) > 0 {
				s.add(tmp.block)
			}
		}
	}
}

func envarName(path []string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.Join(path, "_"), "-", "_"))
}

func parseValue(raw string, typ string) (hcl.Value, error) {
	switch typ {
	case "string":
		return &hcl.String{Str: raw}, nil
	case "number":
		f, _, err := big.ParseFloat(raw, 10, 256, big.ToNearestEven)
		if err != nil {
			return nil, errors.Wrap(err, raw)
		}
		return &hcl.Number{Float: f}, nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.Wrap(err, raw)
		}
		return &hcl.Bool{Bool: b}, nil
	default:
		return nil, errors.Errorf("unsupported type %q", typ)
	}
}
