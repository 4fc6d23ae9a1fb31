package executors

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowpilot/flowpilot/common/config"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

const defaultMaxTokens = 1024

// Fallback rates for models missing from the pricing table, USD per million
// tokens.
const (
	defaultInputPerMTok  = 3.0
	defaultOutputPerMTok = 15.0
)

// modelPricing maps model families to USD cost per million tokens. Prefix
// match, longest wins.
var modelPricing = []struct {
	prefix        string
	inputPerMTok  float64
	outputPerMTok float64
}{
	{"claude-opus-4", 15.0, 75.0},
	{"claude-sonnet-4", 3.0, 15.0},
	{"claude-3-5-haiku", 0.80, 4.0},
	{"claude-3-haiku", 0.25, 1.25},
}

// ChatAPIExecutor sends prompts to the Anthropic Messages API.
type ChatAPIExecutor struct {
	cfg    config.ChatAPIConfig
	client sdk.Client
}

// NewChatAPIExecutor creates a chat-api executor
func NewChatAPIExecutor(cfg config.ChatAPIConfig) *ChatAPIExecutor {
	return &ChatAPIExecutor{
		cfg:    cfg,
		client: sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
	}
}

func (e *ChatAPIExecutor) Type() string                  { return "chat-api" }
func (e *ChatAPIExecutor) DefaultTimeout() time.Duration { return DefaultChatAPITimeout }

// Execute sends one user message and returns the assistant text. With
// output_format json the system prompt instructs the model to answer in
// JSON and the reply lands parsed in data.parsed.
func (e *ChatAPIExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	if e.cfg.APIKey == "" {
		result := errorf(node, "chat-api requires ANTHROPIC_API_KEY")
		result.SetData("category", string(retry.CategoryPermanent))
		return result.Stamp(started)
	}

	prompt := node.ConfigString("prompt")
	if prompt == "" {
		return errorf(node, "chat-api requires a prompt")
	}

	model := node.ConfigString("model")
	if model == "" {
		model = e.cfg.DefaultModel
	}
	maxTokens := int64(defaultMaxTokens)
	if v, ok := node.ConfigFloat("max_tokens"); ok && v > 0 {
		maxTokens = int64(v)
	}
	format := node.ConfigString("output_format")
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return errorf(node, "unsupported output_format %q", format)
	}
	jsonOutput := format == "json"

	system := node.ConfigString("system")
	if jsonOutput {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single valid JSON value and nothing else."
		if schema := node.Config["json_schema"]; schema != nil {
			if encoded, err := json.Marshal(schema); err == nil {
				system += " The JSON must conform to this schema:\n" + string(encoded)
			}
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if temp, ok := node.ConfigFloat("temperature"); ok {
		params.Temperature = sdk.Float(temp)
	}
	if topP, ok := node.ConfigFloat("top_p"); ok {
		params.TopP = sdk.Float(topP)
	}
	if topK, ok := node.ConfigFloat("top_k"); ok {
		params.TopK = sdk.Int(int64(topK))
	}
	if stops := node.ConfigStringList("stop_sequences"); len(stops) > 0 {
		params.StopSequences = stops
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return e.apiError(node, err).Stamp(started)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result := models.NewSuccessResult(strings.TrimSpace(text.String()))
	result.SetData("model", model)
	result.SetData("stop_reason", string(msg.StopReason))
	result.SetData("input_tokens", msg.Usage.InputTokens)
	result.SetData("output_tokens", msg.Usage.OutputTokens)
	result.SetData("cost_usd", estimateCost(model, msg.Usage.InputTokens, msg.Usage.OutputTokens))

	if jsonOutput {
		var parsed any
		if err := json.Unmarshal([]byte(stripFences(result.Output)), &parsed); err == nil {
			result.SetData("parsed", parsed)
		} else {
			result.SetData("parsed", map[string]any{
				"parse_error": err.Error(),
				"raw":         result.Output,
			})
		}
	}
	return result.Stamp(started)
}

// apiError maps an SDK failure to a classified node error. Rate limits
// carry a retry_after hint for the retry policy.
func (e *ChatAPIExecutor) apiError(node *models.Node, err error) *models.NodeResult {
	if errors.Is(err, context.Canceled) {
		result := models.NewSkippedResult("execution cancelled")
		result.SetData("cancelled", true)
		return result
	}

	result := errorf(node, "chat API request failed: %v", err)

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		classification := retry.ClassifyHTTPStatus(apiErr.StatusCode)
		result.SetData("status_code", apiErr.StatusCode)
		result.SetData("category", string(classification.Category))
		if apiErr.Response != nil {
			if after := parseRetryAfter(apiErr.Response.Header.Get("retry-after")); after > 0 {
				result.SetData("retry_after", after.Seconds())
			}
		}
		return result
	}

	classification := retry.ClassifyMessage(err.Error())
	result.SetData("category", string(classification.Category))
	return result
}

// stripFences removes a surrounding markdown code fence from a model reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	in, out := defaultInputPerMTok, defaultOutputPerMTok
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			in, out = p.inputPerMTok, p.outputPerMTok
			break
		}
	}
	return float64(inputTokens)/1e6*in + float64(outputTokens)/1e6*out
}
