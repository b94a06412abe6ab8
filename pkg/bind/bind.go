// Package bind translates a template's declared option schema into a
// command-line argument surface, validates and coerces caller input, and
// produces the evaluation context passed to rendering plus any attached
// file and image payloads. Global run flags and per-template option flags
// are parsed from a single token stream.
package bind

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/promptrun/promptrun/pkg/budget"
	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
	"github.com/promptrun/promptrun/pkg/template"
)

// GlobalRunArgs are the caller-supplied knobs independent of any specific
// template. Pointer fields distinguish "flag absent" from an explicit zero.
type GlobalRunArgs struct {
	Model         string
	ModelHost     string
	OllamaHost    string
	LMStudioHost  string
	OpenAIKey     string
	Temperature   *float64
	Prepend       string
	Append        string
	PrintPrompt   bool
	DryRun        bool
	Verbose       bool
	Format        modelopt.OutputFormat
	OverflowKeep  budget.OverflowKeep
	overflowSet   bool
	ContextLimit  *int
	ReserveOutput *int
	Extra         []string
}

// Overrides converts the explicit command-line values into a partial model
// option set for precedence folding. Unset flags contribute nothing.
func (a GlobalRunArgs) Overrides() modelopt.Defaults {
	d := modelopt.Defaults{
		Temperature:   a.Temperature,
		ContextLimit:  a.ContextLimit,
		ReserveOutput: a.ReserveOutput,
	}
	if a.Model != "" {
		d.Model = &a.Model
	}
	if a.ModelHost != "" {
		d.Host = &a.ModelHost
	}
	if a.Format != modelopt.FormatText {
		f := a.Format
		d.Format = &f
	}
	if a.overflowSet {
		k := a.OverflowKeep
		d.OverflowKeep = &k
	}

	return d
}

// Result is the binder's output: the global run options, the evaluation
// context keyed by option name, and the image attachments extracted into a
// side channel. File attachments are merged directly into the context under
// their option's key.
type Result struct {
	Args    GlobalRunArgs
	Context map[string]any
	Images  []ImageData
}

// Bind parses argv against the merged surface of global run flags and the
// template's declared options. File and image paths are resolved relative to
// baseDir and read eagerly; a read or canonicalization failure aborts the
// whole binding.
func Bind(argv []string, baseDir string, tmpl *template.Template) (*Result, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SortFlags = false
	registerGlobalFlags(fs)

	names := tmpl.OptionNames()
	for _, name := range names {
		opt := tmpl.Options[name]
		if fs.Lookup(name) != nil {
			return nil, errs.New(errs.ErrArgumentParse,
				"template option %q conflicts with a global flag", name)
		}
		registerOptionFlag(fs, name, opt)
	}

	if err := fs.Parse(argv); err != nil {
		return nil, errs.Mark(errs.ErrArgumentParse, err, "parse arguments")
	}

	res := &Result{Context: make(map[string]any, len(names))}

	for _, name := range names {
		opt := tmpl.Options[name]

		if !fs.Changed(name) {
			if opt.Required() {
				return nil, errs.New(errs.ErrMissingRequiredOption, "option %q", name)
			}
			if opt.Type != template.TypeImage {
				res.Context[name] = defaultValue(opt)
			}
			continue
		}

		if err := coerce(fs, baseDir, name, opt, res); err != nil {
			return nil, err
		}
	}

	args, err := globalArgs(fs)
	if err != nil {
		return nil, err
	}
	args.Extra = fs.Args()
	res.Args = args

	return res, nil
}

// registerOptionFlag derives the flag arity and value parser for one option
// descriptor: array descriptors collect repeated occurrences, bool
// descriptors are presence flags, everything else takes exactly one value.
func registerOptionFlag(fs *pflag.FlagSet, name string, opt template.Option) {
	desc := opt.Description

	switch {
	case opt.Array && opt.Type == template.TypeNumber:
		fs.Float64Slice(name, nil, desc)
	case opt.Array && opt.Type == template.TypeInteger:
		fs.Int64Slice(name, nil, desc)
	case opt.Array && opt.Type == template.TypeBool:
		fs.BoolSlice(name, nil, desc)
	case opt.Array:
		fs.StringArray(name, nil, desc)
	case opt.Type == template.TypeNumber:
		fs.Float64(name, 0, desc)
	case opt.Type == template.TypeInteger:
		fs.Int64(name, 0, desc)
	case opt.Type == template.TypeBool:
		fs.Bool(name, false, desc)
	default:
		fs.String(name, "", desc)
	}
}

// coerce reads the parsed value for one supplied option into the result,
// applying the type's validation and side effects.
func coerce(fs *pflag.FlagSet, baseDir, name string, opt template.Option, res *Result) error {
	switch opt.Type {
	case template.TypeBool:
		if opt.Array {
			vals, err := fs.GetBoolSlice(name)
			if err != nil {
				return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
			}
			res.Context[name] = anySlice(vals)
			return nil
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
		}
		res.Context[name] = val
		return nil

	case template.TypeNumber:
		if opt.Array {
			vals, err := fs.GetFloat64Slice(name)
			if err != nil {
				return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
			}
			res.Context[name] = anySlice(vals)
			return nil
		}
		val, err := fs.GetFloat64(name)
		if err != nil {
			return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
		}
		res.Context[name] = val
		return nil

	case template.TypeInteger:
		if opt.Array {
			vals, err := fs.GetInt64Slice(name)
			if err != nil {
				return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
			}
			res.Context[name] = anySlice(vals)
			return nil
		}
		val, err := fs.GetInt64(name)
		if err != nil {
			return errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
		}
		res.Context[name] = val
		return nil

	case template.TypeFile:
		paths, err := stringValues(fs, name, opt.Array)
		if err != nil {
			return err
		}
		objs := make([]any, 0, len(paths))
		for _, p := range paths {
			obj, err := readFileObject(baseDir, p)
			if err != nil {
				return err
			}
			objs = append(objs, obj)
		}
		if opt.Array {
			res.Context[name] = objs
		} else {
			res.Context[name] = objs[0]
		}
		return nil

	case template.TypeImage:
		// Images travel to the backend outside the evaluation context, so
		// they are collected into a flat side channel in caller order.
		paths, err := stringValues(fs, name, opt.Array)
		if err != nil {
			return err
		}
		for _, p := range paths {
			img, err := ReadImage(baseDir, p)
			if err != nil {
				return err
			}
			res.Images = append(res.Images, img)
		}
		return nil

	default: // string
		vals, err := stringValues(fs, name, opt.Array)
		if err != nil {
			return err
		}
		for _, v := range vals {
			if v == "" {
				return errs.New(errs.ErrArgumentParse, "option %q: value must not be empty", name)
			}
		}
		if opt.Array {
			res.Context[name] = anySlice(vals)
		} else {
			res.Context[name] = vals[0]
		}
		return nil
	}
}

// stringValues reads the supplied string values for an option as a slice,
// regardless of arity, so scalar and array handling can share a loop.
func stringValues(fs *pflag.FlagSet, name string, array bool) ([]string, error) {
	if array {
		vals, err := fs.GetStringArray(name)
		if err != nil {
			return nil, errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
		}
		return vals, nil
	}

	val, err := fs.GetString(name)
	if err != nil {
		return nil, errs.Mark(errs.ErrArgumentParse, err, "option %q", name)
	}

	return []string{val}, nil
}

// defaultValue produces the context entry for an option with no supplied
// value: the declared default when present, otherwise an empty sequence for
// arrays, false for bools, and nil for other scalars. Every declared option
// name always ends up with an entry in the context.
func defaultValue(opt template.Option) any {
	if opt.Default != nil {
		return normalizeDefault(opt)
	}
	if opt.Array {
		return []any{}
	}
	if opt.Type == template.TypeBool {
		return false
	}

	return nil
}

// normalizeDefault reshapes a TOML default literal into the same value shape
// a supplied flag would produce, so templates see one representation.
func normalizeDefault(opt template.Option) any {
	norm := func(v any) any {
		if opt.Type == template.TypeNumber {
			if i, ok := v.(int64); ok {
				return float64(i)
			}
		}
		return v
	}

	if opt.Array {
		vals, ok := opt.Default.([]any)
		if !ok {
			return []any{norm(opt.Default)}
		}
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = norm(v)
		}
		return out
	}

	return norm(opt.Default)
}

// readFileObject canonicalizes path against baseDir, reads its full text
// contents, and returns the {filename, path, contents} attachment object.
func readFileObject(baseDir, path string) (map[string]any, error) {
	resolved, err := canonicalPath(baseDir, path)
	if err != nil {
		return nil, errs.Mark(errs.ErrIO, err, "%s", path)
	}

	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errs.Mark(errs.ErrIO, err, "could not read file %s", path)
	}

	return map[string]any{
		"filename": filepath.Base(path),
		"path":     path,
		"contents": string(contents),
	}, nil
}

// canonicalPath joins path onto baseDir when relative and resolves it to an
// absolute path with symlinks evaluated. A path that does not exist fails
// here rather than later.
func canonicalPath(baseDir, path string) (string, error) {
	joined := path
	if !filepath.IsAbs(path) {
		joined = filepath.Join(baseDir, path)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}

	return filepath.Abs(resolved)
}

func anySlice[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
