// Package config discovers and loads persisted configuration. Configuration
// lives in .promptrun directories found by walking from the working directory
// toward the filesystem root, plus the user config directory. Each holds an
// optional config.yaml with default model options and host settings, and a
// templates/ directory. Nearer directories shadow farther ones.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cockroachdb/errors"

	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
	"github.com/promptrun/promptrun/pkg/template"
)

// DirName is the configuration directory searched for in each ancestor of
// the working directory.
const DirName = ".promptrun"

// File is the on-disk shape of config.yaml. Environment variables referenced
// as ${VAR} or $VAR are expanded before parsing, so API keys can stay in the
// environment rather than committed in the config.
type File struct {
	Model        modelopt.Defaults `yaml:"model"`
	OllamaHost   string            `yaml:"ollama_host"`
	LMStudioHost string            `yaml:"lm_studio_host"`
	OpenAIKey    string            `yaml:"openai_key"`
}

// Store is the discovered configuration: directories nearest-first with
// their parsed config files.
type Store struct {
	dirs  []string
	files []File
}

// Discover walks from baseDir toward the root collecting .promptrun
// directories, then appends the user config directory. Missing config.yaml
// files are fine; unparseable ones are not.
func Discover(baseDir string) (*Store, error) {
	var dirs []string

	dir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errs.Mark(errs.ErrIO, err, "resolve %s", baseDir)
	}

	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dirs = append(dirs, candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if userDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(userDir, "promptrun")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dirs = append(dirs, candidate)
		}
	}

	s := &Store{dirs: dirs}
	for _, d := range dirs {
		f, err := loadFile(filepath.Join(d, "config.yaml"))
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
	}

	return s, nil
}

func loadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return File{}, nil
	}
	if err != nil {
		return File{}, errs.Mark(errs.ErrIO, err, "read config %s", path)
	}

	expanded := os.ExpandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return File{}, errors.Wrapf(err, "parse config %s", path)
	}

	return f, nil
}

// Dirs returns the discovered configuration directories, nearest first.
func (s *Store) Dirs() []string {
	return s.dirs
}

// ApplyModelDefaults folds every discovered config's model block onto opts,
// farthest first, so nearer configs win.
func (s *Store) ApplyModelDefaults(opts modelopt.Options) modelopt.Options {
	for i := len(s.files) - 1; i >= 0; i-- {
		opts = opts.Apply(s.files[i].Model)
	}

	return opts
}

// Hosts returns the nearest configured host and key settings.
func (s *Store) Hosts() (ollama, lmStudio, openAIKey string) {
	for _, f := range s.files {
		if ollama == "" {
			ollama = f.OllamaHost
		}
		if lmStudio == "" {
			lmStudio = f.LMStudioHost
		}
		if openAIKey == "" {
			openAIKey = f.OpenAIKey
		}
	}

	return ollama, lmStudio, openAIKey
}

// FindTemplate resolves a template name to its definition, searching
// nearest-first so a local template overrides a global one of the same name.
func (s *Store) FindTemplate(name string) (*template.Template, error) {
	for _, d := range s.dirs {
		path := filepath.Join(d, "templates", name+".toml")
		if _, err := os.Stat(path); err != nil {
			continue
		}

		return template.Load(name, path)
	}

	return nil, errs.New(errs.ErrTemplateNotFound, "template %q", name)
}

// Entry describes one template visible to List.
type Entry struct {
	Name        string
	Description string
	Dir         string
}

// List returns every visible template, nearest-first, with shadowed
// duplicates omitted.
func (s *Store) List() ([]Entry, error) {
	seen := make(map[string]struct{})
	var entries []Entry

	for _, d := range s.dirs {
		glob := filepath.Join(d, "templates", "*.toml")
		matches, err := filepath.Glob(glob)
		if err != nil {
			return nil, errs.Mark(errs.ErrIO, err, "scan %s", d)
		}

		for _, path := range matches {
			name := filepath.Base(path)
			name = name[:len(name)-len(".toml")]
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}

			entry := Entry{Name: name, Dir: d}
			if t, err := template.Load(name, path); err == nil {
				entry.Description = t.Description
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
