// Package constants defines magic numbers and default values used throughout mitmproxy
package constants

import "time"

// Server-connection timeouts used by Session.dialServer.
// DefaultConnTimeout applies when Config.ConnTimeoutSeconds is zero;
// DefaultReadTimeout is always used.
const (
	DefaultConnTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// HTTP limits
const (
	// MaxContentLength is the absolute sanity ceiling on a declared
	// Content-Length, independent of any operator-configured
	// BodySizeLimit: a value above this is always a protocol error,
	// never just a captured-body policy decision.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB

	// DefaultBodyMemLimit is the default of cmd/mitmproxy's -body-limit
	// flag. A Config whose BodySizeLimit is zero has no body limit.
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)
