// Package modelopt resolves the final, immutable parameter set passed to a
// model backend. Resolution folds partial defaults onto a base in a fixed
// order: backend defaults, then persisted configuration, then the template's
// model block, then explicit command-line overrides. Each fold is a pure
// function over value copies; nothing is mutated in place.
package modelopt

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/promptrun/promptrun/pkg/budget"
)

// Provider identifies a backend protocol adapter.
type Provider string

const (
	ProviderOllama   Provider = "ollama"
	ProviderLMStudio Provider = "lm-studio"
	ProviderOpenAI   Provider = "openai"
)

// Default hosts for each provider, used when no host override is configured.
const (
	DefaultOllamaHost   = "http://localhost:11434"
	DefaultLMStudioHost = "http://localhost:1234"
	DefaultOpenAIHost   = "https://api.openai.com"
)

// OutputFormat selects the response format requested from the backend.
type OutputFormat string

const (
	FormatText OutputFormat = ""
	FormatJSON OutputFormat = "json"
)

// UnmarshalText implements encoding.TextUnmarshaler for TOML/YAML decoding.
func (f *OutputFormat) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "", "text":
		*f = FormatText
	case "json":
		*f = FormatJSON
	default:
		return errors.Newf("invalid format %q (valid: text, json)", s)
	}
	return nil
}

// Options is the resolved model parameter set. It is built once per
// invocation and never mutated after resolution. Pointer fields distinguish
// "unset, use the backend default" from an explicit zero.
type Options struct {
	Model            string
	Host             string // explicit host override; empty = provider default
	OllamaHost       string
	LMStudioHost     string
	OpenAIKey        string
	Temperature      float64
	TopP             *float64
	TopK             *int
	FrequencyPenalty *float64
	Stop             []string
	MaxTokens        *int
	Format           OutputFormat
	ContextLimit     *int
	OverflowKeep     budget.OverflowKeep
	ReserveOutput    int // tokens reserved for model output; 0 = budget default
}

// Defaults is a partial parameter set contributed by one precedence layer
// (persisted config, a template's model block, or command-line flags). Nil
// fields contribute nothing.
type Defaults struct {
	Model            *string              `toml:"model" yaml:"model"`
	Host             *string              `toml:"host" yaml:"host"`
	Temperature      *float64             `toml:"temperature" yaml:"temperature"`
	TopP             *float64             `toml:"top_p" yaml:"top_p"`
	TopK             *int                 `toml:"top_k" yaml:"top_k"`
	FrequencyPenalty *float64             `toml:"frequency_penalty" yaml:"frequency_penalty"`
	Stop             []string             `toml:"stop" yaml:"stop"`
	MaxTokens        *int                 `toml:"max_tokens" yaml:"max_tokens"`
	Format           *OutputFormat        `toml:"format" yaml:"format"`
	ContextLimit     *int                 `toml:"context_limit" yaml:"context_limit"`
	OverflowKeep     *budget.OverflowKeep `toml:"overflow_keep" yaml:"overflow_keep"`
	ReserveOutput    *int                 `toml:"reserve_output_context" yaml:"reserve_output_context"`
}

// Base returns the lowest-precedence option set.
func Base() Options {
	return Options{}
}

// Apply folds d onto o and returns the result. Fields d leaves nil keep
// their current value.
func (o Options) Apply(d Defaults) Options {
	overwrite(&o.Model, d.Model)
	overwrite(&o.Host, d.Host)
	overwrite(&o.Temperature, d.Temperature)
	overwriteOpt(&o.TopP, d.TopP)
	overwriteOpt(&o.TopK, d.TopK)
	overwriteOpt(&o.FrequencyPenalty, d.FrequencyPenalty)
	if d.Stop != nil {
		o.Stop = append([]string(nil), d.Stop...)
	}
	overwriteOpt(&o.MaxTokens, d.MaxTokens)
	overwrite(&o.Format, d.Format)
	overwriteOpt(&o.ContextLimit, d.ContextLimit)
	overwrite(&o.OverflowKeep, d.OverflowKeep)
	overwrite(&o.ReserveOutput, d.ReserveOutput)

	return o
}

func overwrite[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func overwriteOpt[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Comms is the transport coordinate derived from resolved options: which
// adapter to use, where to reach it, and the bare model name to put in the
// request envelope.
type Comms struct {
	Provider Provider
	Host     string
	Model    string
	Key      string
}

// Comms derives the backend coordinate. Provider selection follows the model
// name: an explicit "openai/", "lm-studio/", or "ollama/" prefix pins the
// provider, a bare "gpt-" model goes to OpenAI, and everything else goes to
// Ollama. An explicit Host override applies to whichever provider is chosen.
func (o Options) Comms() Comms {
	provider := ProviderOllama
	model := o.Model

	switch {
	case strings.HasPrefix(model, "openai/"):
		provider = ProviderOpenAI
		model = strings.TrimPrefix(model, "openai/")
	case strings.HasPrefix(model, "lm-studio/"):
		provider = ProviderLMStudio
		model = strings.TrimPrefix(model, "lm-studio/")
	case strings.HasPrefix(model, "ollama/"):
		model = strings.TrimPrefix(model, "ollama/")
	case strings.HasPrefix(model, "gpt-"):
		provider = ProviderOpenAI
	}

	host := o.Host
	if host == "" {
		switch provider {
		case ProviderOpenAI:
			host = DefaultOpenAIHost
		case ProviderLMStudio:
			host = firstNonEmpty(o.LMStudioHost, DefaultLMStudioHost)
		default:
			host = firstNonEmpty(o.OllamaHost, DefaultOllamaHost)
		}
	}

	return Comms{
		Provider: provider,
		Host:     strings.TrimRight(host, "/"),
		Model:    model,
		Key:      o.OpenAIKey,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
