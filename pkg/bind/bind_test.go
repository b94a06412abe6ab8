package bind_test

import (
	"github.com/cockroachdb/errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptrun/promptrun/pkg/bind"
	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/template"
)

// newTemplate builds an in-memory template with the given option schema.
func newTemplate(opts map[string]template.Option) *template.Template {
	return &template.Template{
		Name:    "test",
		Path:    "test.toml",
		Prompt:  "body",
		Options: opts,
	}
}

func TestBind_MissingRequiredOption(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"topic": {Type: template.TypeString},
	})

	_, err := bind.Bind(nil, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrMissingRequiredOption))
	assert.Contains(t, err.Error(), "topic")
}

func TestBind_RequiredSupplied(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"topic": {Type: template.TypeString},
	})

	res, err := bind.Bind([]string{"--topic", "goroutines"}, t.TempDir(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "goroutines"}, res.Context)
}

func TestBind_BoolOmittedIsFalse(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"fancy": {Type: template.TypeBool},
	})

	res, err := bind.Bind(nil, t.TempDir(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, false, res.Context["fancy"])

	res, err = bind.Bind([]string{"--fancy"}, t.TempDir(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, true, res.Context["fancy"])
}

func TestBind_DefaultsAlwaysPresent(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"tags":  {Type: template.TypeString, Array: true},
		"count": {Type: template.TypeInteger, Optional: true},
		"style": {Type: template.TypeString, Default: "brief"},
	})

	res, err := bind.Bind(nil, t.TempDir(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, []any{}, res.Context["tags"])
	assert.Nil(t, res.Context["count"])
	assert.Contains(t, res.Context, "count")
	assert.Equal(t, "brief", res.Context["style"])
}

func TestBind_TypedCoercion(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"ratio": {Type: template.TypeNumber, Optional: true},
		"count": {Type: template.TypeInteger, Optional: true},
	})

	res, err := bind.Bind([]string{"--ratio", "0.5", "--count", "42"}, t.TempDir(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Context["ratio"])
	assert.Equal(t, int64(42), res.Context["count"])

	_, err = bind.Bind([]string{"--count", "four"}, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrArgumentParse))
}

func TestBind_EmptyStringRejected(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"topic": {Type: template.TypeString},
	})

	_, err := bind.Bind([]string{"--topic", ""}, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrArgumentParse))
	assert.Contains(t, err.Error(), "topic")
}

func TestBind_UnknownFlag(t *testing.T) {
	tmpl := newTemplate(nil)

	_, err := bind.Bind([]string{"--no-such-flag"}, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrArgumentParse))
}

func TestBind_ArrayCollectsInOrder(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"tag": {Type: template.TypeString, Array: true},
	})

	res, err := bind.Bind([]string{"--tag", "one", "--tag", "two", "--tag", "three"}, t.TempDir(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two", "three"}, res.Context["tag"])
}

func TestBind_FileAttachment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("file body"), 0o644))

	tmpl := newTemplate(map[string]template.Option{
		"notes": {Type: template.TypeFile},
	})

	res, err := bind.Bind([]string{"--notes", "notes.txt"}, dir, tmpl)
	require.NoError(t, err)

	obj, ok := res.Context["notes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "notes.txt", obj["filename"])
	assert.Equal(t, "notes.txt", obj["path"])
	assert.Equal(t, "file body", obj["contents"])
}

func TestBind_FileArrayPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B"), 0o644))

	tmpl := newTemplate(map[string]template.Option{
		"files": {Type: template.TypeFile, Array: true},
	})

	res, err := bind.Bind([]string{"--files", "b.txt", "--files", "a.txt"}, dir, tmpl)
	require.NoError(t, err)

	objs, ok := res.Context["files"].([]any)
	require.True(t, ok)
	require.Len(t, objs, 2)
	assert.Equal(t, "B", objs[0].(map[string]any)["contents"])
	assert.Equal(t, "A", objs[1].(map[string]any)["contents"])
}

func TestBind_MissingFileIsIOError(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"notes": {Type: template.TypeFile},
	})

	_, err := bind.Bind([]string{"--notes", "nope.txt"}, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrIO))
	assert.Contains(t, err.Error(), "nope.txt")
}

func TestBind_GlobalFlags(t *testing.T) {
	tmpl := newTemplate(nil)

	res, err := bind.Bind([]string{
		"--model", "llama3",
		"--temperature", "0.9",
		"--pre", "intro",
		"--post", "outro",
		"--dry-run",
		"--overflow-keep", "start",
		"--context-limit", "1024",
		"extra one", "extra two",
	}, t.TempDir(), tmpl)
	require.NoError(t, err)

	args := res.Args
	assert.Equal(t, "llama3", args.Model)
	require.NotNil(t, args.Temperature)
	assert.Equal(t, 0.9, *args.Temperature)
	assert.Equal(t, "intro", args.Prepend)
	assert.Equal(t, "outro", args.Append)
	assert.True(t, args.DryRun)
	require.NotNil(t, args.ContextLimit)
	assert.Equal(t, 1024, *args.ContextLimit)
	assert.Equal(t, []string{"extra one", "extra two"}, args.Extra)
}

func TestBind_InvalidOverflowKeep(t *testing.T) {
	_, err := bind.Bind([]string{"--overflow-keep", "middle"}, t.TempDir(), newTemplate(nil))
	require.True(t, errors.Is(err, errs.ErrArgumentParse))
}

func TestBind_ModelFromEnv(t *testing.T) {
	t.Setenv("MODEL", "env-model")

	res, err := bind.Bind(nil, t.TempDir(), newTemplate(nil))
	require.NoError(t, err)
	assert.Equal(t, "env-model", res.Args.Model)

	// An explicit flag wins over the environment.
	res, err = bind.Bind([]string{"--model", "flag-model"}, t.TempDir(), newTemplate(nil))
	require.NoError(t, err)
	assert.Equal(t, "flag-model", res.Args.Model)
}

func TestBind_Idempotent(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"topic": {Type: template.TypeString},
		"tags":  {Type: template.TypeString, Array: true},
		"fancy": {Type: template.TypeBool},
	})
	argv := []string{"--topic", "go", "--tags", "a", "--tags", "b"}

	first, err := bind.Bind(argv, t.TempDir(), tmpl)
	require.NoError(t, err)
	second, err := bind.Bind(argv, t.TempDir(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, first.Context, second.Context)
}

func TestBind_OptionConflictsWithGlobalFlag(t *testing.T) {
	tmpl := newTemplate(map[string]template.Option{
		"model": {Type: template.TypeString, Optional: true},
	})

	_, err := bind.Bind(nil, t.TempDir(), tmpl)
	require.True(t, errors.Is(err, errs.ErrArgumentParse))
}
