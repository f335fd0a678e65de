// Package logging provides opt-in file-based logging with rotation for fskb.
// When the --debug flag is set, comprehensive logs are written to ~/.fskb/logs/
// for debugging and troubleshooting.
//
// By default (without --debug), the CLI commands log minimally to stderr
// only, preserving the "It Just Works" philosophy. `fskb daemon
// --foreground` is the exception: it writes the file log as well.
package logging
