package protocol

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator implements Generator on top of the Bedrock Converse API.
type BedrockGenerator struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockGenerator(api bedrockConverseAPI, modelID string) *BedrockGenerator {
	if api == nil {
		panic("protocol: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		panic("protocol: bedrock model id cannot be empty")
	}
	return &BedrockGenerator{api: api, modelID: modelID}
}

func (g *BedrockGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	out, err := g.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(g.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: buildPrompt(req)},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(2048),
			Temperature: aws.Float32(0.4),
		},
	})
	if err != nil {
		return Result{}, err
	}

	text, err := extractOutputText(out)
	if err != nil {
		return Result{}, err
	}
	return Result{Protocol: strings.TrimSpace(text), Model: g.modelID}, nil
}

func extractOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("protocol: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("protocol: bedrock response did not include a message output")
	}
	if len(msgOut.Value.Content) == 0 {
		return "", errors.New("protocol: bedrock response message was empty")
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	if strings.TrimSpace(builder.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return builder.String(), nil
}
