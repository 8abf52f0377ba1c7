// Package llm wraps a Groq-compatible chat completions endpoint for the
// Middle-Manager Gate's compression calls. It never sees tool calls or
// multi-turn history — the gate sends one prompt and reads back one
// completion, priced from the provider's reported token usage.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"scout.dev/scout/core/config"
)

// Per-1M-token Groq pricing, used to cost every completion from its token
// counts — the provider's reported usage, or the word-count estimate when
// the provider reports none.
const (
	cost8BInput   = 0.05
	cost8BOutput  = 0.08
	cost70BInput  = 0.59
	cost70BOutput = 0.79

	model8B = "llama-3.1-8b-instant"

	// epsilonCost distinguishes "a call happened and priced to zero" from
	// "no call was made" in the audit trail.
	epsilonCost = 1e-7
)

// Response is one completion, priced and attributed.
type Response struct {
	Content      string
	CostUSD      float64
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client is the gate's only LLM collaborator. Implementations must be
// safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt, system, model string) (Response, error)
}

type groqClient struct {
	openai openai.Client
}

// New builds a Client against the configured OpenAI-compatible base URL
// (Groq by default). It returns an error if no API key is configured —
// the gate cannot degrade gracefully without a compression model.
func New(cfg config.Config) (Client, error) {
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("llm: no API key configured (set GROQ_API_KEY)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.LLMAPIKey),
	}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLMBaseURL))
	}
	return &groqClient{openai: openai.NewClient(opts...)}, nil
}

func (c *groqClient) Complete(ctx context.Context, prompt, system, model string) (Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            messages,
		Temperature:         openai.Float(0.1),
		MaxCompletionTokens: openai.Int(1024),
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("llm: chat completion: %w", err)
	}

	slog.DebugContext(ctx, "gate compression call completed",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: no choices in response")
	}

	content := resp.Choices[0].Message.Content
	inputT := int(resp.Usage.PromptTokens)
	outputT := int(resp.Usage.CompletionTokens)

	if inputT == 0 && outputT == 0 {
		inputT, outputT = estimateTokens(prompt, content)
		slog.Warn("llm: provider reported no usage, falling back to word-count estimate",
			"model", model, "estimated_input_tokens", inputT, "estimated_output_tokens", outputT)
	}

	cost := priceCompletion(model, inputT, outputT)
	return Response{
		Content:      content,
		CostUSD:      cost,
		Model:        model,
		InputTokens:  inputT,
		OutputTokens: outputT,
	}, nil
}

// priceCompletion prices a completion from token counts, applying an
// epsilon floor so a zero-cost call is still distinguishable in the audit
// trail from "no call made".
func priceCompletion(model string, inputT, outputT int) float64 {
	var inRate, outRate float64
	if model == model8B {
		inRate, outRate = cost8BInput, cost8BOutput
	} else {
		inRate, outRate = cost70BInput, cost70BOutput
	}
	cost := float64(inputT)/1_000_000*inRate + float64(outputT)/1_000_000*outRate
	if cost <= 0 {
		return epsilonCost
	}
	return cost
}

// estimateTokens is a rough word-count-times-two heuristic used only when
// the provider omits usage metadata.
func estimateTokens(prompt, completion string) (input, output int) {
	return countWords(prompt) * 2, countWords(completion) * 2
}

func countWords(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}
