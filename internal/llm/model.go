// Package llm generates assistant replies from a conversation history using
// langchaingo providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/threadchat/internal/config"
	"github.com/raphaelgruber/threadchat/internal/metrics"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/fake"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Producer identifies who emitted a streamed fragment.
type Producer int

const (
	// ProducerAssistant marks reply text meant for the user.
	ProducerAssistant Producer = iota
	// ProducerReasoning marks thinking output of reasoning models.
	ProducerReasoning
)

func (p Producer) String() string {
	switch p {
	case ProducerAssistant:
		return "assistant"
	case ProducerReasoning:
		return "reasoning"
	default:
		return fmt.Sprintf("producer(%d)", int(p))
	}
}

// Fragment is one streamed piece of provider output.
type Fragment struct {
	Producer Producer
	Text     string
}

// errStopped aborts generation once the consumer stops iterating.
var errStopped = errors.New("stream stopped by consumer")

// Model wraps a langchaingo LLM for chat replies.
type Model struct {
	llm       llms.Model
	provider  string
	modelName string
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records timings and token usage into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Model) {
		m.metrics = c
	}
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, opts ...Option) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		openaiOpts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(openaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	case config.ProviderFake:
		if len(cfg.FakeResponses) == 0 {
			return nil, fmt.Errorf("fake provider needs at least one response")
		}
		// The fake model keeps an unguarded cursor.
		model = &lockedModel{llm: fake.NewFakeLLM(cfg.FakeResponses)}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFromLLM(model, cfg.LLMProvider, cfg.LLMModel, opts...), nil
}

// NewModelFromLLM wraps an existing langchaingo model.
func NewModelFromLLM(llm llms.Model, provider, modelName string, opts ...Option) *Model {
	m := &Model{
		llm:       llm,
		provider:  provider,
		modelName: modelName,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "llm", "provider", provider)
	return m
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Provider returns the provider name.
func (m *Model) Provider() string {
	return m.provider
}

// Respond generates the complete assistant reply to history.
func (m *Model) Respond(ctx context.Context, history []models.Message) (models.Message, error) {
	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, toMessageContent(history))
	duration := time.Since(start)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMGenerate)
		m.logger.Warn("generate failed", "turns", len(history), "duration_ms", duration.Milliseconds(), "error", err)
		return models.Message{}, newEngineError("generate", m.provider, err)
	}

	choice, err := firstChoice(resp)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMGenerate)
		return models.Message{}, &EngineError{Op: "generate", Provider: m.provider, Code: CodeMalformedResponse, Err: err}
	}

	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
	m.logger.Debug("generate complete", "turns", len(history), "duration_ms", duration.Milliseconds(), "input_tokens", in, "output_tokens", out)

	return models.NewMessage(threadOf(history), models.RoleAssistant, choice.Content), nil
}

// RespondStream returns the assistant reply as a sequence of text fragments.
// Generation starts when the sequence is first iterated and stops early if
// the consumer breaks out of the loop. Reasoning output is dropped. The
// sequence can be iterated once; later iterations yield ErrStreamConsumed.
//
// If the provider delivers no fragments, the complete reply is yielded as a
// single fragment, so the concatenation always equals the full reply.
func (m *Model) RespondStream(ctx context.Context, history []models.Message) iter.Seq2[string, error] {
	var consumed atomic.Bool

	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		var (
			streamed  bool
			stopped   bool
			reasoning int
		)
		emit := func(f Fragment) error {
			if stopped {
				return errStopped
			}
			if f.Producer != ProducerAssistant {
				reasoning += len(f.Text)
				return nil
			}
			if f.Text == "" {
				return nil
			}
			streamed = true
			if !yield(f.Text, nil) {
				stopped = true
				return errStopped
			}
			return nil
		}

		start := time.Now()
		resp, err := m.llm.GenerateContent(ctx, toMessageContent(history),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				return emit(Fragment{Producer: ProducerAssistant, Text: string(chunk)})
			}),
			// Some providers pass the content chunk here as well; it already
			// arrives through the streaming func above.
			llms.WithStreamingReasoningFunc(func(_ context.Context, reasoningChunk, _ []byte) error {
				return emit(Fragment{Producer: ProducerReasoning, Text: string(reasoningChunk)})
			}),
		)
		duration := time.Since(start)

		if stopped {
			m.logger.Debug("stream stopped by consumer", "duration_ms", duration.Milliseconds())
			return
		}
		if err != nil {
			m.metrics.RecordError(metrics.OpLLMStream)
			m.logger.Warn("stream failed", "turns", len(history), "duration_ms", duration.Milliseconds(), "error", err)
			yield("", newEngineError("stream", m.provider, err))
			return
		}

		choice, err := firstChoice(resp)
		if err != nil {
			m.metrics.RecordError(metrics.OpLLMStream)
			yield("", &EngineError{Op: "stream", Provider: m.provider, Code: CodeMalformedResponse, Err: err})
			return
		}

		in, out := tokenUsage(choice.GenerationInfo)
		m.metrics.RecordLLMUsage(metrics.OpLLMStream, duration, in, out)
		m.logger.Debug("stream complete",
			"turns", len(history),
			"duration_ms", duration.Milliseconds(),
			"streamed", streamed,
			"reasoning_bytes", reasoning,
			"input_tokens", in,
			"output_tokens", out,
		)

		if !streamed && choice.Content != "" {
			yield(choice.Content, nil)
		}
	}
}

// toMessageContent maps stored messages onto provider chat messages.
func toMessageContent(history []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		role := llms.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}

func firstChoice(resp *llms.ContentResponse) (*llms.ContentChoice, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, ErrNoChoices
	}
	return resp.Choices[0], nil
}

func threadOf(history []models.Message) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].ThreadID
}

// Token usage keys differ per provider.
var (
	inputTokenKeys  = []string{"PromptTokens", "InputTokens", "input_tokens"}
	outputTokenKeys = []string{"CompletionTokens", "OutputTokens", "output_tokens"}
)

func tokenUsage(info map[string]any) (in, out int64) {
	return lookupInt(info, inputTokenKeys), lookupInt(info, outputTokenKeys)
}

func lookupInt(info map[string]any, keys []string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		case *int32:
			if v != nil {
				return int64(*v)
			}
		}
	}
	return 0
}

// lockedModel serializes calls to a model that is not safe for concurrent use.
type lockedModel struct {
	mu  sync.Mutex
	llm llms.Model
}

func (l *lockedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.llm.GenerateContent(ctx, messages, options...)
}

func (l *lockedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}
