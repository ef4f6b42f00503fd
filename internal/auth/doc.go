// Package auth provides bearer token authentication for the HTTP API.
// Operator endpoints use HS256 signed JWTs verified against a shared secret;
// agent-facing endpoints optionally check a static heartbeat key. The
// authenticated subject is carried in the request context.
package auth
