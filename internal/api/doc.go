// Package api exposes the chat gateway over a JSON HTTP API.
//
// Routes under /api/v1 sit behind a middleware stack (recovery, request
// IDs, logging, CORS, per-IP rate limiting, identity provisioning).
// Health probes are served outside the stack so orchestrators are never
// rate limited or issued cookies.
package api
