package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// Session & command
	KeySession = "session" // client session handle
	KeyCommand = "command" // protocol command: OPEN, WRITE, LOCK, ...
	KeyArg     = "arg"     // raw command argument

	// File operations
	KeyPath    = "path"    // pathname key
	KeySize    = "size"    // file size in bytes
	KeyEvicted = "evicted" // number of entries evicted by a command

	// Responses
	KeyCode      = "code"      // response status code
	KeyStatusMsg = "status"    // human-readable response description
	KeyReason    = "reason"    // reason for a failure or close
	KeyDuration  = "duration_ms"

	// Store occupancy
	KeyFilesUsed  = "files_used"
	KeyFilesCap   = "files_cap"
	KeyBytesUsed  = "bytes_used"
	KeyBytesCap   = "bytes_cap"

	// Connections
	KeyConnections = "connections"
	KeyWorkers     = "workers"

	KeyError = "error"
)

// Session returns a slog.Attr for the session handle.
func Session(handle string) slog.Attr {
	return slog.String(KeySession, handle)
}

// Command returns a slog.Attr for the protocol command.
func Command(cmd string) slog.Attr {
	return slog.String(KeyCommand, cmd)
}

// Path returns a slog.Attr for a pathname.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Size returns a slog.Attr for a byte size.
func Size(n int) slog.Attr {
	return slog.Int(KeySize, n)
}

// Evicted returns a slog.Attr for a number of evicted entries.
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// Code returns a slog.Attr for a response status code.
func Code(code int) slog.Attr {
	return slog.Int(KeyCode, code)
}

// Reason returns a slog.Attr for a failure/close reason.
func Reason(reason string) slog.Attr {
	return slog.String(KeyReason, reason)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDuration, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
