package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// converser is the subset of the Bedrock runtime client used here.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock sends the PDF itself to a Bedrock model through the Converse API.
type Bedrock struct {
	client        converser
	model         string
	facilityCodes []string
	metrics       *metrics.Collector
	maxTokens     int32
}

var _ Analyzer = (*Bedrock)(nil)

// NewBedrock creates an analyzer using the default AWS credential chain.
func NewBedrock(ctx context.Context, region, model string, opts Options) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(cfg), model, opts), nil
}

func newBedrock(client converser, model string, opts Options) *Bedrock {
	return &Bedrock{
		client:        client,
		model:         model,
		facilityCodes: opts.FacilityCodes,
		metrics:       opts.Metrics,
		maxTokens:     4096,
	}
}

// Model returns the Bedrock model id.
func (b *Bedrock) Model() string {
	return b.model
}

// Analyze implements Analyzer.
func (b *Bedrock) Analyze(ctx context.Context, doc Document) (models.ExtractedData, error) {
	start := time.Now()
	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberDocument{Value: types.DocumentBlock{
					Format: types.DocumentFormatPdf,
					Name:   aws.String(documentName(doc.Filename)),
					Source: &types.DocumentSourceMemberBytes{Value: doc.Content},
				}},
				&types.ContentBlockMemberText{Value: buildPrompt(b.facilityCodes)},
			},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(b.maxTokens),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		b.metrics.RecordError(metrics.OpAnalyze)
		return nil, &Error{Filename: doc.Filename, Reason: "bedrock converse failed", Err: wrapFatalError(err)}
	}

	var inTokens, outTokens int64
	if out.Usage != nil {
		inTokens = int64(aws.ToInt32(out.Usage.InputTokens))
		outTokens = int64(aws.ToInt32(out.Usage.OutputTokens))
	}
	b.metrics.RecordLLMUsage(metrics.OpAnalyze, time.Since(start), inTokens, outTokens)

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, &Error{Filename: doc.Filename, Reason: fmt.Sprintf("unexpected bedrock output %T", out.Output)}
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	data, err := ParseResponse(sb.String())
	if err != nil {
		return nil, withFilename(err, doc.Filename)
	}
	return data, nil
}

var unsafeDocName = regexp.MustCompile(`[^A-Za-z0-9 ()\[\]-]+`)

// documentName adapts a filename to Bedrock's document name rules, which
// allow only alphanumerics, single spaces, hyphens, parentheses and brackets.
func documentName(filename string) string {
	name := strings.TrimSuffix(filename, ".pdf")
	name = strings.TrimSuffix(name, ".PDF")
	name = unsafeDocName.ReplaceAllString(name, "-")
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, "- ")
	if name == "" {
		return "floorplan"
	}
	return name
}

func withFilename(err error, filename string) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Filename == "" {
		ae.Filename = filename
	}
	return err
}
