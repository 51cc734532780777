// Package middleware provides request authentication and rate limiting for
// the hub API.
//
// Authenticate resolves "Token <key>" or "Bearer <key>" headers through an
// Authenticator (auth.TokenService) and stores the user and token in the
// request context. Requests without a header continue as the anonymous user.
//
//	router.Use(middleware.Authenticate(tokens, audit))
//
// Rate limiting keys authenticated users by id and anonymous clients by
// address. The in-process RateLimiter is a token bucket; the Redis-backed
// DistributedRateLimiter shares fixed-window counters between replicas.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	router.Use(middleware.NewRateLimitMiddleware(limiter, anonLimiter, audit).Handler)
//
// Authenticate must run before the rate limiter so that users are keyed by
// account.
package middleware
