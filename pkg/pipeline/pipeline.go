// Package pipeline orchestrates one template invocation: configuration
// discovery, template lookup, argument binding, model option resolution,
// prompt assembly and rendering, context budget enforcement, and dispatching
// the finished prompt to a backend while streaming fragments to the output.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/backend"
	"github.com/promptrun/promptrun/pkg/bind"
	"github.com/promptrun/promptrun/pkg/budget"
	"github.com/promptrun/promptrun/pkg/config"
	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
	"github.com/promptrun/promptrun/pkg/render"
	"github.com/promptrun/promptrun/pkg/template"
)

// Runner executes template invocations. Output receives the streamed
// response; Diag receives prompts and diagnostics (normally stderr). Stdin,
// when non-nil, is piped input treated as additional free-form text.
type Runner struct {
	BaseDir string
	Output  io.Writer
	Diag    io.Writer
	Stdin   io.Reader
	Logger  *zap.SugaredLogger

	// Dispatch selects the backend adapter; nil uses backend.Dispatch.
	// Tests substitute a canned backend here.
	Dispatch func(modelopt.Options, *zap.SugaredLogger) backend.Backend
}

// Run executes the named template with the raw argument tokens following it
// on the command line.
func (r *Runner) Run(ctx context.Context, name string, argv []string) error {
	store, err := config.Discover(r.BaseDir)
	if err != nil {
		return err
	}

	tmpl, err := store.FindTemplate(name)
	if err != nil {
		return err
	}

	res, err := bind.Bind(argv, r.BaseDir, tmpl)
	if err != nil {
		return err
	}
	args := res.Args

	logger := r.logger(args.Verbose)

	opts := r.resolveOptions(store, tmpl, args)
	logger.Debugw("resolved model options",
		"model", opts.Model, "temperature", opts.Temperature, "format", string(opts.Format))

	be := r.dispatch(opts, logger)

	prompt, system, err := r.assemble(ctx, be, tmpl, res, opts)
	if err != nil {
		return err
	}

	if args.Verbose {
		fmt.Fprintf(r.Diag, "%+v\n", opts)
	}
	if args.PrintPrompt || args.Verbose || args.DryRun {
		if system != "" {
			fmt.Fprintf(r.Diag, "== System:\n%s\n\n", system)
		}
		fmt.Fprintf(r.Diag, "== Prompt:\n%s\n\n== Result:\n", prompt)
	}
	if args.DryRun {
		return nil
	}

	return r.stream(ctx, be, backend.Request{Prompt: prompt, System: system, Images: res.Images}, logger)
}

// resolveOptions folds the precedence layers in their fixed order: backend
// base, persisted configuration, the template's model block, explicit flags.
func (r *Runner) resolveOptions(store *config.Store, tmpl *template.Template, args bind.GlobalRunArgs) modelopt.Options {
	opts := modelopt.Base()
	opts = store.ApplyModelDefaults(opts)
	opts = opts.Apply(tmpl.Model)
	opts = opts.Apply(args.Overrides())

	cfgOllama, cfgLMStudio, cfgKey := store.Hosts()
	opts.OllamaHost = firstNonEmpty(args.OllamaHost, cfgOllama)
	opts.LMStudioHost = firstNonEmpty(args.LMStudioHost, cfgLMStudio)
	opts.OpenAIKey = firstNonEmpty(args.OpenAIKey, cfgKey)

	return opts
}

// assemble builds the prompt body, renders it with the evaluation context,
// and enforces the context budget against the free-form segment.
func (r *Runner) assemble(ctx context.Context, be backend.Backend, tmpl *template.Template, res *bind.Result, opts modelopt.Options) (prompt, system string, err error) {
	body := tmpl.Prompt
	if res.Args.Prepend != "" {
		body = res.Args.Prepend + "\n\n" + body
	}

	extras := append([]string(nil), res.Args.Extra...)
	if r.Stdin != nil {
		piped, err := io.ReadAll(r.Stdin)
		if err != nil {
			return "", "", errs.Mark(errs.ErrIO, err, "reading stdin")
		}
		if len(piped) > 0 {
			extras = append(extras, string(piped))
		}
	}
	freeform := strings.Join(extras, "\n\n")

	// When the template references the extra binding, free-form text is
	// injected as a context value; otherwise it is appended to the body.
	// Either way the budgeter truncates the free-form segment, never the
	// template's fixed content.
	usesExtra := template.ReferencesExtra(body)
	renderFn := func(ff string) (string, error) {
		evalCtx := res.Context
		finalBody := body
		if usesExtra {
			evalCtx = maps.Clone(res.Context)
			evalCtx["extra"] = ff
		} else if ff != "" {
			finalBody = finalBody + "\n\n" + ff
		}
		if res.Args.Append != "" {
			finalBody = finalBody + "\n\n" + res.Args.Append
		}

		return render.Render(tmpl.Path, finalBody, evalCtx)
	}

	if tmpl.System != "" {
		system, err = render.Render(tmpl.Path+" (system)", tmpl.System, res.Context)
		if err != nil {
			return "", "", err
		}
	}

	limit, err := r.contextLimit(ctx, be, opts)
	if err != nil {
		return "", "", err
	}

	prompt, err = budget.Enforce(renderFn, freeform, budget.Estimator{}, budget.Params{
		Limit:   limit,
		Reserve: opts.ReserveOutput,
		Keep:    opts.OverflowKeep,
	})
	if err != nil {
		return "", "", err
	}

	return prompt, system, nil
}

// contextLimit resolves the effective token ceiling: the caller-supplied
// override when present, otherwise the backend's native window for the model.
func (r *Runner) contextLimit(ctx context.Context, be backend.Backend, opts modelopt.Options) (int, error) {
	if opts.ContextLimit != nil {
		return *opts.ContextLimit, nil
	}

	return be.ContextLimit(ctx, opts.Comms().Model)
}

// stream issues the backend request and consumes fragments concurrently
// through a bounded handoff channel, writing each to the output in emission
// order and trailing a newline once the stream ends.
func (r *Runner) stream(ctx context.Context, be backend.Backend, req backend.Request, logger *zap.SugaredLogger) error {
	out := make(chan string, backend.FragmentBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for fragment := range out {
			if _, err := io.WriteString(r.Output, fragment); err != nil {
				// The stream is already ending; nothing to recover.
				logger.Debugw("write fragment", "error", err)
			}
		}
		fmt.Fprintln(r.Output)
	}()

	err := be.Generate(ctx, req, out)
	close(out)
	<-done

	return err
}

func (r *Runner) dispatch(opts modelopt.Options, logger *zap.SugaredLogger) backend.Backend {
	if r.Dispatch != nil {
		return r.Dispatch(opts, logger)
	}

	return backend.Dispatch(opts, logger)
}

func (r *Runner) logger(verbose bool) *zap.SugaredLogger {
	if r.Logger != nil {
		return r.Logger
	}
	if !verbose {
		return zap.NewNop().Sugar()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return logger.Sugar()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
