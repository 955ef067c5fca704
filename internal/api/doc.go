// Package api is the client for the admin REST backend.
//
// Every endpoint answers with the same envelope:
//
//	{"success": true, "message": "ok", "data": {...}}
//
// Non-2xx responses and success=false bodies are returned as *Error. Requests
// carry a bearer token, are rate limited client side and traced with
// OpenTelemetry. Idempotent reads are retried on 429 and 5xx.
package api
