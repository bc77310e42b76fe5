package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/clinicware/anamnesis-platform/internal/config"
	"github.com/clinicware/anamnesis-platform/internal/protocol"
	"github.com/clinicware/anamnesis-platform/pkg/logging"
)

// LoadAWSConfig loads the shared AWS config, honoring static credentials and
// a local endpoint override (localstack) when configured.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	if cfg.AWSEndpointOverride != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
	}
	return awsCfg, nil
}

// BuildGenerator selects the protocol generator from config. Provider "auto"
// prefers Gemini when a key is present, then Bedrock, then the stub.
func BuildGenerator(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (protocol.Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	switch provider {
	case "gemini":
		return buildGemini(ctx, cfg, logger)
	case "bedrock":
		return buildBedrock(ctx, cfg, logger)
	case "", "auto":
		if cfg.GeminiAPIKey != "" {
			return buildGemini(ctx, cfg, logger)
		}
		if cfg.BedrockModelID != "" {
			return buildBedrock(ctx, cfg, logger)
		}
		logger.Warn("no AI provider configured; using stub generator")
		return protocol.NewStubGenerator(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown AI provider %q", cfg.AIProvider)
	}
}

func buildGemini(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (protocol.Generator, error) {
	generator, err := protocol.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gemini generator: %w", err)
	}
	logger.Info("using gemini protocol generator", "model", cfg.GeminiModelID)
	return generator, nil
}

func buildBedrock(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (protocol.Generator, error) {
	if cfg.BedrockModelID == "" {
		return nil, fmt.Errorf("bootstrap: bedrock provider selected but BEDROCK_MODEL_ID is empty")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := bedrockruntime.NewFromConfig(awsCfg)
	logger.Info("using bedrock protocol generator", "model", cfg.BedrockModelID)
	return protocol.NewBedrockGenerator(client, cfg.BedrockModelID), nil
}

// BuildQueue wires the enrichment re-run queue: SQS when a queue URL is
// configured, otherwise an in-process buffer.
func BuildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (protocol.Queue, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.UseMemoryQueue || cfg.EnrichmentQueueURL == "" {
		logger.Info("using in-memory enrichment queue")
		return protocol.NewMemoryQueue(64), nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQS enrichment queue", "queue_url", cfg.EnrichmentQueueURL)
	return protocol.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EnrichmentQueueURL), nil
}

// BuildJobStore wires enrichment job persistence per config.
func BuildJobStore(ctx context.Context, cfg *appconfig.Config, pool protocol.PgxJobPool, logger *logging.Logger) (protocol.JobStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return protocol.NewMemoryJobStore(), nil
	}
	switch cfg.EnrichmentJobStore {
	case "dynamodb":
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using DynamoDB enrichment job store", "table", cfg.EnrichmentJobTable)
		return protocol.NewDynamoJobStore(dynamodb.NewFromConfig(awsCfg), cfg.EnrichmentJobTable, logger), nil
	case "postgres":
		if pool == nil {
			logger.Warn("postgres job store selected but no pool; using memory store")
			return protocol.NewMemoryJobStore(), nil
		}
		return protocol.NewPostgresJobStore(pool), nil
	case "memory", "":
		return protocol.NewMemoryJobStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown enrichment job store %q", cfg.EnrichmentJobStore)
	}
}
