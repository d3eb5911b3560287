package txclient

import "go.uber.org/zap"

// Options configures the pieces of txclient that need shared collaborators
// (currently just a logger), following the functional-option pattern used
// throughout the teacher's own AgentOptions/TransactionsConfig builders.
// NewRemoteTransactionHandle and NewSubordinateXAResource take their logger
// as an argument and do not read Options.
type Options struct {
	Logger *zap.Logger
}

// Option mutates an Options value during construction.
type Option func(*Options)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func newOptions(opts ...Option) *Options {
	o := &Options{Logger: zap.NewNop()}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
