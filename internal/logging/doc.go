// Package logging provides file-based logging with rotation.
// When the --debug flag is set, CLI commands write debug-level logs to
// ~/.markdown-qa/logs/ and to stderr; without it they keep slog's default
// stderr logger.
//
// The serve command always logs to that file at debug level and never to
// stderr (see SetupMCPMode).
package logging
