// Package logging provides the structured logging facility used across
// limit. It wraps log/slog with subsystem-tagged convenience helpers so
// callers don't carry a logger reference through every constructor.
//
// Components that touch credentials additionally emit SECURITY_AUDIT
// records (see internal/secrets); those never include secret values.
package logging
