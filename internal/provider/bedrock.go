package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockInvoker is the subset of the bedrockruntime client the adapter uses.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// NewBedrockClient loads AWS configuration for region. Static keys are used
// when both are set; otherwise the default credential chain applies.
func NewBedrockClient(ctx context.Context, region, accessKey, secretKey string) (*bedrockruntime.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// bedrockAdapter invokes Anthropic models hosted on Bedrock.
type bedrockAdapter struct {
	client BedrockInvoker
}

func (a *bedrockAdapter) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if a.client == nil {
		return nil, &ConfigurationError{Provider: Bedrock, Field: "bedrock client"}
	}

	payload := anthropicBody(messages, opts)
	payload.AnthropicVersion = bedrockAnthropicVersion
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ConfigurationError{Provider: Bedrock, Err: err}
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(opts.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		ue := &UpstreamError{Provider: Bedrock, Err: err}
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			ue.StatusCode = respErr.HTTPStatusCode()
		}
		return nil, ue
	}

	resp, err := parseAnthropic(output.Body)
	if err != nil {
		return nil, &UpstreamError{
			Provider: Bedrock,
			Body:     snippet(output.Body),
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}
	}
	if resp.Model == "" {
		resp.Model = opts.Model
	}
	return resp, nil
}
