// Package threadkit is a self-hostable comment platform backed entirely
// by Redis.

// The repository is organized into subpackages:

// - cmd/server: the HTTP API node
// - cmd/fanout: the websocket fanout node
// - cmd/threadkit: operator CLI for tenant provisioning
// - cmd/seed: demo data generator for local development
// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/pagetree: page comment trees, the write lock, and read views
// - internal/votes: the vote transition engine and karma accounting
// - internal/indexes: secondary indexes, roles, modqueue, notifications
// - internal/auth: sessions, passwords, OTP, OAuth, and wallet sign-in
// - internal/websocket: the fanout hub, clients, and JSON-RPC framing
// - internal/batcher: the interval-flushed Redis op batcher
// - internal/bridge: the pub/sub to hub relay
// - internal/events: domain event publishing
// - internal/middleware: API keys, auth, rate limits, security headers
// - internal/cache: the Redis client wrapper
// - internal/models: data models and the Redis key schema
// - internal/storage: avatar storage (S3)
// - internal/email: outbound mail (SES)

// See the individual package documentation for detail.
package threadkit
