// Package lambdaboot holds the cold-start bootstrap shared by the relay
// binaries: AWS config, the service clients the relay needs, and secrets
// from SSM Parameter Store.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/blessing-relay/internal/logging"
)

// AWSClients holds the config and the clients created from it.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// Dynamo returns a DynamoDB client for the task table.
func (c AWSClients) Dynamo() *dynamodb.Client {
	return dynamodb.NewFromConfig(c.Config)
}

// S3 returns an S3 client for s3:// result locators.
func (c AWSClients) S3() *s3.Client {
	return s3.NewFromConfig(c.Config)
}

// SSMAPI is the subset of *ssm.Client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret returns current if it is already set (from the environment),
// otherwise the decrypted value of paramName. A missing parameter is not
// fatal: the feature depending on it is disabled and "" is returned.
func LoadSecret(ctx context.Context, client SSMAPI, current, paramName string) string {
	if current != "" || paramName == "" {
		return current
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("param", paramName).Msg("Secret not found in SSM, feature disabled")
		return ""
	}
	if result.Parameter == nil {
		log.Warn().Str("param", paramName).Msg("SSM parameter has no value, feature disabled")
		return ""
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return aws.ToString(result.Parameter.Value)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}

// InLambda reports whether the process runs inside AWS Lambda.
func InLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
