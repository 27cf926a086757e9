package origin

import (
	"context"
	"fmt"

	"lessonvault/internal/config"
	"lessonvault/internal/license"
)

// NewOriginFromConfig creates an Origin based on the origin config type.
// secret signs the URLs of local and memory origins.
func NewOriginFromConfig(ctx context.Context, cfg config.OriginConfig, secret []byte, clock license.Clock) (Origin, error) {
	switch cfg.Type {
	case "memory":
		signer, err := NewSigner(secret, "http://localhost", clock)
		if err != nil {
			return nil, err
		}
		return NewMemoryOrigin(signer), nil
	case "local":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("local origin requires local_root to be set")
		}
		signer, err := NewSigner(secret, cfg.LocalBaseURL, clock)
		if err != nil {
			return nil, err
		}
		o, err := NewLocalOrigin(cfg.LocalRoot, signer)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "s3":
		o, err := NewS3Origin(ctx, cfg, clock)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown origin type: %s", cfg.Type)
	}
}
