package analysis

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/floorplan-import/internal/metrics"
	"github.com/raphaelgruber/floorplan-import/internal/models"
)

type fakeConverser struct {
	reply string
	err   error
	input *bedrockruntime.ConverseInput
}

func (f *fakeConverser) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: f.reply}},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(1500), OutputTokens: aws.Int32(220)},
	}, nil
}

func TestBedrockAnalyze(t *testing.T) {
	fake := &fakeConverser{reply: "```json\n{\"building\":{\"name\":\"メゾン代々木\",\"floors\":\"5階建\"}}\n```"}
	collector := metrics.NewCollector()
	b := newBedrock(fake, "anthropic.claude-test", Options{FacilityCodes: []string{"auto_lock"}, Metrics: collector})

	pdf := []byte("%PDF-1.7 plan")
	data, err := b.Analyze(context.Background(), Document{Filename: "メゾン代々木 301.pdf", ContentType: "application/pdf", Content: pdf})
	require.NoError(t, err)

	building := data.Section(models.SectionBuilding)
	assert.Equal(t, "メゾン代々木", building.String("name"))
	floors, ok := building.Int("floors")
	assert.True(t, ok)
	assert.Equal(t, 5, floors)

	require.NotNil(t, fake.input)
	assert.Equal(t, "anthropic.claude-test", aws.ToString(fake.input.ModelId))
	require.Len(t, fake.input.Messages, 1)
	content := fake.input.Messages[0].Content
	require.Len(t, content, 2)

	docBlock, ok := content[0].(*types.ContentBlockMemberDocument)
	require.True(t, ok)
	assert.Equal(t, types.DocumentFormatPdf, docBlock.Value.Format)
	assert.Equal(t, "301", aws.ToString(docBlock.Value.Name))
	src, ok := docBlock.Value.Source.(*types.DocumentSourceMemberBytes)
	require.True(t, ok)
	assert.Equal(t, pdf, src.Value)

	text, ok := content[1].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Contains(t, text.Value, "auto_lock")

	snap := collector.Snapshot()
	require.NotNil(t, snap.Analyze)
	assert.Equal(t, int64(1500), *snap.Analyze.TotalInputTokens)
}

func TestBedrockFatalError(t *testing.T) {
	fake := &fakeConverser{err: awsError(403, "AccessDeniedException", "You don't have access to the model")}
	b := newBedrock(fake, "m", Options{})

	_, err := b.Analyze(context.Background(), Document{Filename: "a.pdf"})
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "a.pdf", ae.Filename)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

func TestBedrockValidationErrorIsNotFatal(t *testing.T) {
	fake := &fakeConverser{err: awsError(400, "ValidationException", "The document is corrupt")}
	b := newBedrock(fake, "m", Options{})

	_, err := b.Analyze(context.Background(), Document{Filename: "a.pdf"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFatalAPI)
	assert.Contains(t, err.Error(), "ValidationException")
}

func TestBedrockUnparseableReply(t *testing.T) {
	b := newBedrock(&fakeConverser{reply: "The scan is too blurry."}, "m", Options{})

	_, err := b.Analyze(context.Background(), Document{Filename: "blurry.pdf"})
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "blurry.pdf", ae.Filename)
	assert.NotErrorIs(t, err, ErrFatalAPI)
}

func TestDocumentName(t *testing.T) {
	tests := map[string]string{
		"plan_301.pdf":       "plan-301",
		"Room (A) [2].PDF":   "Room (A) [2]",
		"間取り図.pdf":           "floorplan",
		"  spaced   out.pdf": "spaced out",
	}
	for in, want := range tests {
		assert.Equal(t, want, documentName(in), in)
	}
}
