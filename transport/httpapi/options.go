package httpapi

// ServerOptions tunes request and response handling.
type ServerOptions struct {
	// MaxRequestSize limits request bodies as sent on the wire.
	MaxRequestSize int64
	// MaxDecompressedSize limits gzip request bodies after decompression.
	MaxDecompressedSize int64
	// CompressionEnabled gzips responses for clients that accept it.
	CompressionEnabled bool
	// CompressionThreshold is the smallest response that is compressed.
	CompressionThreshold int64
}

// DefaultServerOptions returns the options used when none are given.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       1 << 20,
		MaxDecompressedSize:  4 << 20,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
	}
}

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithCompressionThreshold sets the minimum size for response compression
func WithCompressionThreshold(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionThreshold = size
	}
}

func applyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
