package artifact

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rumbosoft/rumbo/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("artifact",
	fx.Provide(NewStore),
)

// NewStore selects the backend from configuration. Local is the default;
// S3 needs a bucket and resolves AWS credentials from the environment.
func NewStore(cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.Artifact.Backend {
	case "s3":
		if cfg.Artifact.S3Bucket == "" {
			return nil, fmt.Errorf("artifact: s3 backend requires a bucket")
		}
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Artifact.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Artifact.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("artifact: load aws config: %w", err)
		}
		log.Info("artifact store ready",
			zap.String("backend", "s3"),
			zap.String("bucket", cfg.Artifact.S3Bucket),
			zap.String("prefix", cfg.Artifact.S3Prefix),
		)
		return NewS3Store(s3.NewFromConfig(awsCfg), cfg.Artifact.S3Bucket, cfg.Artifact.S3Prefix), nil
	default:
		log.Info("artifact store ready",
			zap.String("backend", "local"),
			zap.String("dir", cfg.Artifact.LocalDir),
		)
		return NewLocalStore(cfg.Artifact.LocalDir), nil
	}
}
