package contracts

// IgnoredTypes selects incoming message kinds an input channel drops before
// queueing, the way hardware-facing tools commonly mute clock and active
// sensing chatter. Nothing is ignored by default.
type IgnoredTypes struct {
	SysEx       bool // drop System Exclusive messages
	Timing      bool // drop MIDI time code (0xF1) and timing clock (0xF8)
	ActiveSense bool // drop active sensing (0xFE)
}

// ClientOptions defines the configuration options for the engine.
type ClientOptions struct {
	Logger           Logger       // Logger for engine and backend events.
	LogLevel         LogLevel     // Level of logging to use.
	ClientName       string       // Name the backend registers the client under.
	PreferredBackend *BackendTag  // Explicit backend choice; nil means platform order.
	QueueSize        int          // Input queue capacity per channel.
	IgnoredTypes     IgnoredTypes // Incoming message kinds to drop.
}

// Option is a function that modifies ClientOptions.
type Option func(*ClientOptions)

// WithLogger sets the logger for the engine.
func WithLogger(l Logger) Option {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the engine.
func WithLogLevel(level LogLevel) Option {
	return func(opts *ClientOptions) {
		opts.LogLevel = level
	}
}

// WithClientName sets the name the backend registers the client under.
func WithClientName(name string) Option {
	return func(opts *ClientOptions) {
		opts.ClientName = name
	}
}

// WithPreferredBackend requests a specific backend instead of the platform
// probing order. Selection fails with ErrBackendUnavailable if the backend
// is not compiled in or its probe fails.
func WithPreferredBackend(tag BackendTag) Option {
	return func(opts *ClientOptions) {
		opts.PreferredBackend = &tag
	}
}

// WithQueueSize sets the per-channel input queue capacity. The queue is
// bounded; on overflow the newest event is dropped and a warning logged,
// since transport hardware can burst faster than a consumer drains.
func WithQueueSize(n int) Option {
	return func(opts *ClientOptions) {
		opts.QueueSize = n
	}
}

// WithIgnoredTypes configures which incoming message kinds input channels
// drop before queueing.
func WithIgnoredTypes(ignored IgnoredTypes) Option {
	return func(opts *ClientOptions) {
		opts.IgnoredTypes = ignored
	}
}
