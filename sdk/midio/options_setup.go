package midio

import (
	"github.com/leandrodaf/midio/internal/engine"
	"github.com/leandrodaf/midio/internal/logger"
	"github.com/leandrodaf/midio/sdk/contracts"
)

// applyDefaultOptions sets default values for ClientOptions if not
// explicitly provided.
func applyDefaultOptions(opts ...contracts.Option) (contracts.ClientOptions, error) {
	options := &contracts.ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	if options.ClientName == "" {
		options.ClientName = "midio client"
	}
	if options.QueueSize <= 0 {
		options.QueueSize = engine.DefaultQueueSize
	}

	options.Logger.SetLevel(options.LogLevel)
	return *options, nil
}
