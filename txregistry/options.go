package txregistry

import "go.uber.org/zap"

// Options configures an ImportRegistry's shared collaborators, following the
// same functional-option pattern as txclient.Options.
type Options struct {
	Logger             *zap.Logger
	StaleWindowSeconds int64
}

// Option mutates an Options value during construction.
type Option func(*Options)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithStaleWindowSeconds overrides DefaultStaleWindowSeconds, the bounded
// time after local completion during which the registry must still resolve
// a gtid for late peer queries.
func WithStaleWindowSeconds(seconds int64) Option {
	return func(o *Options) {
		o.StaleWindowSeconds = seconds
	}
}

func newOptions(opts ...Option) *Options {
	o := &Options{Logger: zap.NewNop(), StaleWindowSeconds: DefaultStaleWindowSeconds}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
