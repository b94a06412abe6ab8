package bind

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/promptrun/promptrun/pkg/budget"
	"github.com/promptrun/promptrun/pkg/errs"
)

// Environment variables consulted when the corresponding flag is absent.
const (
	envModel        = "MODEL"
	envModelHost    = "MODEL_HOST"
	envOllamaHost   = "OLLAMA_HOST"
	envLMStudioHost = "LM_STUDIO_HOST"
	envOpenAIKey    = "OPENAI_KEY"
)

// registerGlobalFlags adds the fixed run flags to the merged surface.
func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("model", "m", "", "override the model used by the template")
	fs.String("model-host", "", "send the request to this model host")
	fs.String("ollama-host", "", "Ollama host, if different from the default")
	fs.String("lm-studio-host", "", "LM Studio host, if different from the default")
	fs.String("openai-key", "", "OpenAI API key")
	fs.Float64P("temperature", "t", 0, "override the temperature value passed to the model")
	fs.String("pre", "", "prepend this text to the template")
	fs.String("post", "", "append this text to the template")
	fs.Bool("print-prompt", false, "print the generated prompt")
	fs.Bool("dry-run", false, "print the generated prompt and exit without submitting it")
	fs.BoolP("verbose", "v", false, "print the prompt and the model parameters")
	fs.String("format", "", "output format: text or json")
	fs.String("overflow-keep", "", "side of the context to keep when overflowing: start or end")
	fs.Int("context-limit", 0, "set a lower context size limit for the model")
	fs.Int("reserve-output-context", 0, "keep the prompt short enough to generate this many tokens (default 256)")
}

// globalArgs extracts the parsed global flags, applying environment-variable
// fallbacks for host, key, and model settings when the flag was not passed.
func globalArgs(fs *pflag.FlagSet) (GlobalRunArgs, error) {
	var args GlobalRunArgs

	args.Model = stringOrEnv(fs, "model", envModel)
	args.ModelHost = stringOrEnv(fs, "model-host", envModelHost)
	args.OllamaHost = stringOrEnv(fs, "ollama-host", envOllamaHost)
	args.LMStudioHost = stringOrEnv(fs, "lm-studio-host", envLMStudioHost)
	args.OpenAIKey = stringOrEnv(fs, "openai-key", envOpenAIKey)
	args.Prepend, _ = fs.GetString("pre")
	args.Append, _ = fs.GetString("post")
	args.PrintPrompt, _ = fs.GetBool("print-prompt")
	args.DryRun, _ = fs.GetBool("dry-run")
	args.Verbose, _ = fs.GetBool("verbose")

	if fs.Changed("temperature") {
		v, _ := fs.GetFloat64("temperature")
		args.Temperature = &v
	}
	if fs.Changed("context-limit") {
		v, _ := fs.GetInt("context-limit")
		args.ContextLimit = &v
	}
	if fs.Changed("reserve-output-context") {
		v, _ := fs.GetInt("reserve-output-context")
		args.ReserveOutput = &v
	}

	if fs.Changed("format") {
		raw, _ := fs.GetString("format")
		if err := args.Format.UnmarshalText([]byte(raw)); err != nil {
			return args, errs.Mark(errs.ErrArgumentParse, err, "flag --format")
		}
	}

	if fs.Changed("overflow-keep") {
		raw, _ := fs.GetString("overflow-keep")
		keep, err := budget.ParseOverflowKeep(raw)
		if err != nil {
			return args, errs.Mark(errs.ErrArgumentParse, err, "flag --overflow-keep")
		}
		args.OverflowKeep = keep
		args.overflowSet = true
	}

	return args, nil
}

// stringOrEnv returns the flag's value when it was passed, otherwise the
// environment variable's value.
func stringOrEnv(fs *pflag.FlagSet, flag, env string) string {
	if fs.Changed(flag) {
		v, _ := fs.GetString(flag)
		return v
	}

	return os.Getenv(env)
}
