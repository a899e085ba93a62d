// Package middleware provides the gin middleware stack of the script host API.
//
// Middleware stack includes:
//   - RequestID: X-Request-ID tagging, reusing well-formed inbound ids
//   - Logger: one zap line per completed request
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
