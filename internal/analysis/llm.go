package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/floorplan-import/internal/config"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// maxPromptText bounds the document text sent to text-only models.
const maxPromptText = 24000

// LLM analyzes documents with a langchaingo model over text extracted from
// the PDF.
type LLM struct {
	llm           llms.Model
	modelName     string
	text          TextExtractor
	facilityCodes []string
	metrics       *metrics.Collector
}

var _ Analyzer = (*LLM)(nil)

// NewLLM creates a text analyzer for the ollama, openai or anthropic provider.
func NewLLM(cfg config.Config, text TextExtractor, opts Options) (*LLM, error) {
	var model llms.Model
	var err error

	switch cfg.Analyzer {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.AnalyzerModel),
			ollama.WithServerURL(cfg.OllamaHost),
			ollama.WithFormat("json"),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.AnalyzerModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.AnalyzerModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported analyzer provider: %s", cfg.Analyzer)
	}

	return newLLM(model, cfg.AnalyzerModel, text, opts), nil
}

func newLLM(model llms.Model, name string, text TextExtractor, opts Options) *LLM {
	return &LLM{
		llm:           model,
		modelName:     name,
		text:          text,
		facilityCodes: opts.FacilityCodes,
		metrics:       opts.Metrics,
	}
}

// Model returns the LLM model name.
func (m *LLM) Model() string {
	return m.modelName
}

// Analyze implements Analyzer.
func (m *LLM) Analyze(ctx context.Context, doc Document) (models.ExtractedData, error) {
	extractStart := time.Now()
	text, err := m.text.ExtractText(ctx, doc.Content)
	if err != nil {
		m.metrics.RecordError(metrics.OpTextExtract)
		return nil, &Error{Filename: doc.Filename, Reason: "text extraction failed", Err: err}
	}
	m.metrics.RecordTiming(metrics.OpTextExtract, time.Since(extractStart))
	if text == "" {
		return nil, &Error{Filename: doc.Filename, Reason: "document has no text layer"}
	}
	if r := []rune(text); len(r) > maxPromptText {
		text = string(r[:maxPromptText])
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			buildPrompt(m.facilityCodes)+"\n\nDocument text:\n"+text),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(0), llms.WithMaxTokens(4096))
	if err != nil {
		m.metrics.RecordError(metrics.OpAnalyze)
		return nil, &Error{Filename: doc.Filename, Reason: "generate failed", Err: wrapFatalError(err)}
	}
	if len(response.Choices) == 0 {
		return nil, &Error{Filename: doc.Filename, Reason: "no response choices"}
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpAnalyze, time.Since(start), in, out)

	data, err := ParseResponse(choice.Content)
	if err != nil {
		return nil, withFilename(err, doc.Filename)
	}
	return data, nil
}

// tokenUsage reads token counts from provider generation info. Providers
// use different keys, so every known spelling is tried.
func tokenUsage(info map[string]any) (int64, int64) {
	return firstInt(info, "InputTokens", "PromptTokens", "prompt_eval_count"),
		firstInt(info, "OutputTokens", "CompletionTokens", "eval_count")
}

func firstInt(info map[string]any, keys ...string) int64 {
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
		}
	}
	return 0
}
