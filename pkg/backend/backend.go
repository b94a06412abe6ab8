// Package backend presents one uniform send/stream contract over
// heterogeneous model-serving protocols. An adapter knows its request
// envelope and response framing; the dispatcher selects exactly one adapter
// from the resolved model options and exposes only "fragment" and
// "end-of-stream" to the caller.
package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/bind"
	"github.com/promptrun/promptrun/pkg/modelopt"
)

// FragmentBuffer is the capacity of the handoff channel between a backend's
// read loop and the fragment consumer. A slow consumer applies backpressure
// to the network read rather than buffering without bound.
const FragmentBuffer = 32

// Request carries the finished prompt to a backend.
type Request struct {
	Prompt string
	System string
	Images []bind.ImageData
}

// Backend is one protocol adapter. Generate issues the request and pushes
// each decoded text fragment onto out in backend-emission order, returning
// after the backend signals completion or on the first transport, protocol,
// or model error. The caller owns out and closes it after Generate returns.
// ContextLimit resolves the model's native context window size.
type Backend interface {
	Generate(ctx context.Context, req Request, out chan<- string) error
	ContextLimit(ctx context.Context, model string) (int, error)
}

// Dispatch selects the protocol adapter for the resolved options. Selection
// follows the options' provider coordinate, never type inspection.
func Dispatch(opts modelopt.Options, logger *zap.SugaredLogger) Backend {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	comms := opts.Comms()
	switch comms.Provider {
	case modelopt.ProviderOpenAI:
		return NewOpenAI(opts, logger)
	case modelopt.ProviderLMStudio:
		return NewLMStudio(opts, logger)
	default:
		return NewOllama(opts, logger)
	}
}

// send delivers one fragment, giving up when the consumer has gone away.
func send(ctx context.Context, out chan<- string, fragment string) error {
	select {
	case out <- fragment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
