// Package logger wires log/slog for the PayChat daemon: a process-wide
// structured logger plus an audit logger that records ledger mutations and
// session authentication changes into a size-rotated file.
package logger
