package staging

import (
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// NewFromConfig creates the application's store, pre-populated from the
// configured manifest when one is set.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	store := New()
	if cfg.Staging.Manifest == "" {
		return store, nil
	}
	if err := store.LoadManifestFile(cfg.Staging.Manifest); err != nil {
		return nil, err
	}
	logger.Info("staging manifest loaded",
		zap.String("staging.manifest", cfg.Staging.Manifest),
		zap.Int("files", store.Len()))
	return store, nil
}
