// Package logging wraps zap with context-aware helpers for ragd.
//
// Every ctx-taking method appends correlation fields found in the context:
// trace and span IDs from OpenTelemetry, the request ID assigned by the HTTP
// layer, the user ID a chat turn belongs to, and the ingestion operation ID.
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider through the otelzap bridge. Sensitive keys such as api_key and
// password are redacted by the encoder before anything is written.
package logging
