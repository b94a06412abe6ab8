package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/modelopt"
)

// defaultLMStudioContext is assumed when the caller does not override the
// context limit; LM Studio exposes no introspection for the loaded model.
const defaultLMStudioContext = 2048

// LMStudio streams completions from a local LM Studio daemon, which speaks
// the OpenAI chat-completions envelope without auth. Only the context-size
// lookup differs.
type LMStudio struct {
	*OpenAI
}

// NewLMStudio creates an adapter for the host resolved from opts.
func NewLMStudio(opts modelopt.Options, logger *zap.SugaredLogger) *LMStudio {
	comms := opts.Comms()

	return &LMStudio{
		OpenAI: &OpenAI{
			c:      client{baseURL: comms.Host},
			opts:   opts,
			model:  comms.Model,
			logger: logger,
		},
	}
}

// ContextLimit implements Backend.
func (l *LMStudio) ContextLimit(_ context.Context, _ string) (int, error) {
	return defaultLMStudioContext, nil
}
