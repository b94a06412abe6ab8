package backend

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
)

// defaultOllamaContext is Ollama's context size when a modelfile does not
// declare num_ctx.
const defaultOllamaContext = 2048

// Ollama streams generations from an Ollama daemon. The response framing is
// one JSON object per line with an explicit done marker on the final chunk.
type Ollama struct {
	c      client
	opts   modelopt.Options
	model  string
	logger *zap.SugaredLogger

	mu       sync.Mutex
	ctxCache map[string]int
}

// NewOllama creates an adapter for the host resolved from opts.
func NewOllama(opts modelopt.Options, logger *zap.SugaredLogger) *Ollama {
	comms := opts.Comms()

	return &Ollama{
		c:        client{baseURL: comms.Host},
		opts:     opts,
		model:    comms.Model,
		logger:   logger,
		ctxCache: make(map[string]int),
	}
}

type ollamaRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	System  string             `json:"system,omitempty"`
	Format  string             `json:"format,omitempty"`
	Stream  bool               `json:"stream"`
	Images  []string           `json:"images,omitempty"`
	Options ollamaModelOptions `json:"options"`
}

type ollamaModelOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate implements Backend.
func (o *Ollama) Generate(ctx context.Context, req Request, out chan<- string) error {
	payload := ollamaRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		System: req.System,
		Format: string(o.opts.Format),
		Stream: true,
		Options: ollamaModelOptions{
			Temperature:   o.opts.Temperature,
			TopP:          o.opts.TopP,
			TopK:          o.opts.TopK,
			RepeatPenalty: o.opts.FrequencyPenalty,
			NumPredict:    o.opts.MaxTokens,
			Stop:          o.opts.Stop,
		},
	}
	for _, img := range req.Images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img.Data))
	}

	o.logger.Debugw("ollama generate", "model", o.model, "host", o.c.baseURL)

	body, err := o.c.post(ctx, "/api/generate", payload)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return errs.Mark(errs.ErrBackendProtocol, err, "decode chunk")
		}
		if chunk.Error != "" {
			return errs.New(errs.ErrBackendModel, "%s", chunk.Error)
		}

		if chunk.Response != "" {
			if err := send(ctx, out, chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return errs.Mark(errs.ErrBackendTransport, err, "read stream")
	}

	return nil
}

type ollamaModelInfo struct {
	Parameters string `json:"parameters"`
}

// ContextLimit implements Backend. It reads the model's declared num_ctx
// parameter from /api/show, falling back to Ollama's documented default when
// the modelfile does not declare one. Results are cached per model name.
func (o *Ollama) ContextLimit(ctx context.Context, model string) (int, error) {
	o.mu.Lock()
	if size, ok := o.ctxCache[model]; ok {
		o.mu.Unlock()
		return size, nil
	}
	o.mu.Unlock()

	var info ollamaModelInfo
	if err := o.c.postJSON(ctx, "/api/show", map[string]string{"name": model}, &info); err != nil {
		return 0, err
	}

	size := defaultOllamaContext
	for _, line := range strings.Split(info.Parameters, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "num_ctx" {
			continue
		}
		parsed, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, errs.Mark(errs.ErrBackendProtocol, err, "parse num_ctx %q", fields[1])
		}
		size = parsed
		break
	}

	o.mu.Lock()
	o.ctxCache[model] = size
	o.mu.Unlock()

	return size, nil
}
