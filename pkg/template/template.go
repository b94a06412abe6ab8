// Package template loads prompt template definitions. A template is a TOML
// file combining a free-form prompt body, an optional system-instruction body,
// a declared option schema, and an optional model-default block.
package template

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
)

// OptionType is the declared type of a template option.
type OptionType string

const (
	TypeString  OptionType = "string"
	TypeNumber  OptionType = "number"
	TypeInteger OptionType = "int"
	TypeBool    OptionType = "bool"
	TypeFile    OptionType = "file"
	TypeImage   OptionType = "image"
)

// Option is one entry of a template's declared option schema.
type Option struct {
	Type        OptionType `toml:"type"`
	Description string     `toml:"description"`
	Array       bool       `toml:"array"`
	Optional    bool       `toml:"optional"`
	Default     any        `toml:"default"`
}

// Required reports whether the option must be supplied at bind time. Options
// are required by default; bool options, options with a default, and options
// marked optional are not.
func (o Option) Required() bool {
	return o.Type != TypeBool && o.Default == nil && !o.Optional
}

// Template is a parsed prompt template definition.
type Template struct {
	Name        string
	Path        string
	Description string
	Prompt      string
	System      string
	Options     map[string]Option
	Model       modelopt.Defaults
}

// file is the on-disk TOML shape of a template.
type file struct {
	Description  string            `toml:"description"`
	Template     string            `toml:"template"`
	TemplatePath string            `toml:"template_path"`
	System       string            `toml:"system"`
	SystemPath   string            `toml:"system_path"`
	Options      map[string]Option `toml:"options"`
	Model        modelopt.Defaults `toml:"model"`
}

// extraPattern matches a reference to the "extra" binding in a template body,
// e.g. {{.extra}} or {{ .extra | printf "%s" }}.
var extraPattern = regexp.MustCompile(`\{\{[^}]*\.extra\b`)

// ReferencesExtra reports whether the body references the extra binding. When
// it does, piped-in and trailing free-form text is injected as a context value
// instead of being appended to the body.
func ReferencesExtra(body string) bool {
	return extraPattern.MatchString(body)
}

// Load reads and validates a template definition from path. Body files
// referenced by template_path or system_path are resolved relative to the
// template file's directory and read eagerly.
func Load(name, path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Mark(errs.ErrIO, err, "read template %s", path)
	}

	return Parse(name, path, data)
}

// Parse decodes a template definition from TOML source. The path is used to
// resolve body file references and to annotate errors.
func Parse(name, path string, data []byte) (*Template, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse template %s", path)
	}

	dir := filepath.Dir(path)

	prompt := f.Template
	if prompt == "" && f.TemplatePath != "" {
		body, err := os.ReadFile(filepath.Join(dir, f.TemplatePath))
		if err != nil {
			return nil, errs.Mark(errs.ErrIO, err, "read template body %s", f.TemplatePath)
		}
		prompt = string(body)
	}
	if prompt == "" {
		return nil, errs.New(errs.ErrEmptyTemplate, "template %s has neither template nor template_path", name)
	}

	system := f.System
	if system == "" && f.SystemPath != "" {
		body, err := os.ReadFile(filepath.Join(dir, f.SystemPath))
		if err != nil {
			return nil, errs.Mark(errs.ErrIO, err, "read system body %s", f.SystemPath)
		}
		system = string(body)
	}

	t := &Template{
		Name:        name,
		Path:        path,
		Description: f.Description,
		Prompt:      prompt,
		System:      system,
		Options:     f.Options,
		Model:       f.Model,
	}

	if err := t.validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// OptionNames returns the declared option names in a stable sorted order.
// Binding and context construction iterate in this order so repeated runs
// over the same input are byte-identical.
func (t *Template) OptionNames() []string {
	names := make([]string, 0, len(t.Options))
	for name := range t.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (t *Template) validate() error {
	for _, name := range t.OptionNames() {
		opt := t.Options[name]

		switch opt.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBool, TypeFile, TypeImage:
		case "integer":
			// Accepted alias.
			opt.Type = TypeInteger
			t.Options[name] = opt
		default:
			return errors.Newf("template %s: option %q: unknown type %q", t.Name, name, opt.Type)
		}

		if opt.Default != nil {
			if err := checkDefault(opt); err != nil {
				return errors.Wrapf(err, "template %s: option %q", t.Name, name)
			}
		}
	}

	return nil
}

// checkDefault verifies a declared default literal matches the option type.
func checkDefault(opt Option) error {
	if opt.Array {
		vals, ok := opt.Default.([]any)
		if !ok {
			return errors.Newf("default for array option must be an array, got %T", opt.Default)
		}
		for _, v := range vals {
			if err := checkScalarDefault(opt.Type, v); err != nil {
				return err
			}
		}
		return nil
	}

	return checkScalarDefault(opt.Type, opt.Default)
}

func checkScalarDefault(typ OptionType, v any) error {
	ok := false
	switch typ {
	case TypeString, TypeFile, TypeImage:
		_, ok = v.(string)
	case TypeNumber:
		switch v.(type) {
		case float64, int64:
			ok = true
		}
	case TypeInteger:
		_, ok = v.(int64)
	case TypeBool:
		_, ok = v.(bool)
	}
	if !ok {
		return errors.Newf("default %v does not match option type %q", v, typ)
	}

	return nil
}
