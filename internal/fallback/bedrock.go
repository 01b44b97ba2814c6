package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/ppiankov/neurorouter"
)

// ConverseAPI is the subset of the Bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockReasoner asks a model through the Bedrock Converse API.
type BedrockReasoner struct {
	Client    ConverseAPI
	ModelID   string
	MaxTokens int32
}

// NewBedrockReasoner loads AWS credentials from the default chain.
func NewBedrockReasoner(ctx context.Context, region, modelID string) (*BedrockReasoner, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockReasoner{Client: bedrockruntime.NewFromConfig(cfg), ModelID: modelID}, nil
}

func (b *BedrockReasoner) Reason(ctx context.Context, req Request) (Verdict, error) {
	maxTokens := b.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	out, err := b.Client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.ModelID),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: userPrompt(req)}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		var throttled *types.ThrottlingException
		switch {
		case errors.As(err, &throttled):
			return Verdict{}, fmt.Errorf("%w: %w: %v", ErrUnavailable, neurorouter.ErrRateLimited, err)
		case ctx.Err() != nil:
			return Verdict{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return Verdict{}, fmt.Errorf("%w: converse: %v", ErrUnavailable, err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: unexpected converse output", ErrUnavailable)
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	return parseVerdict(text.String())
}
