package backend

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/promptrun/promptrun/pkg/errs"
	"github.com/promptrun/promptrun/pkg/modelopt"
)

const completionsPath = "/v1/chat/completions"

// defaultOpenAIContext is the assumed context window when a model is not in
/// the size table.
const defaultOpenAIContext = 4096

// openAIContextSizes maps model-name prefixes to published context window
// sizes. Longer prefixes are listed first so they match before their
// generic fallbacks.
var openAIContextSizes = []struct {
	prefix string
	size   int
}{
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4-32k", 32768},
	{"gpt-4", 8192},
	{"gpt-3.5-turbo-16k", 16385},
	{"gpt-3.5-turbo", 4096},
}

// OpenAI streams completions from the OpenAI Chat Completions API. The
// response framing is server-sent events: "data:" chunks carrying deltas,
// terminated by a [DONE] marker instead of an in-band done flag.
type OpenAI struct {
	c      client
	opts   modelopt.Options
	model  string
	logger *zap.SugaredLogger
}

// NewOpenAI creates an adapter for the host and key resolved from opts.
func NewOpenAI(opts modelopt.Options, logger *zap.SugaredLogger) *OpenAI {
	comms := opts.Comms()

	return &OpenAI{
		c:      client{baseURL: comms.Host, key: comms.Key},
		opts:   opts,
		model:  comms.Model,
		logger: logger,
	}
}

type oaiRequest struct {
	Model            string             `json:"model"`
	Messages         []oaiMessage       `json:"messages"`
	Temperature      float64            `json:"temperature"`
	TopP             *float64           `json:"top_p,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	Stop             []string           `json:"stop,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	ResponseFormat   *oaiResponseFormat `json:"response_format,omitempty"`
	Stream           bool               `json:"stream"`
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

// oaiMessage content is either a plain string or, for multimodal user
// messages, a list of typed parts.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate implements Backend.
func (o *OpenAI) Generate(ctx context.Context, req Request, out chan<- string) error {
	payload := oaiRequest{
		Model:            o.model,
		Messages:         o.buildMessages(req),
		Temperature:      o.opts.Temperature,
		TopP:             o.opts.TopP,
		FrequencyPenalty: o.opts.FrequencyPenalty,
		Stop:             o.opts.Stop,
		MaxTokens:        o.opts.MaxTokens,
		Stream:           true,
	}
	if o.opts.Format == modelopt.FormatJSON {
		payload.ResponseFormat = &oaiResponseFormat{Type: "json_object"}
	}

	o.logger.Debugw("openai generate", "model", o.model, "host", o.c.baseURL)

	body, err := o.c.post(ctx, completionsPath, payload)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return errs.Mark(errs.ErrBackendProtocol, err, "decode chunk")
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		if text := chunk.Choices[0].Delta.Content; text != "" {
			if err := send(ctx, out, text); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return errs.Mark(errs.ErrBackendTransport, err, "read stream")
	}

	return nil
}

func (o *OpenAI) buildMessages(req Request) []oaiMessage {
	var msgs []oaiMessage

	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: req.System})
	}

	if len(req.Images) == 0 {
		return append(msgs, oaiMessage{Role: "user", Content: req.Prompt})
	}

	parts := []oaiContentPart{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		url := "data:" + img.MIME() + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: url}})
	}

	return append(msgs, oaiMessage{Role: "user", Content: parts})
}

// ContextLimit implements Backend. OpenAI publishes no introspection
// endpoint for context sizes, so the lookup is a static prefix table.
func (o *OpenAI) ContextLimit(_ context.Context, model string) (int, error) {
	for _, entry := range openAIContextSizes {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.size, nil
		}
	}

	return defaultOpenAIContext, nil
}
