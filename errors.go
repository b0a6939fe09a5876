package decsync

import "errors"

// Sentinel errors returned across package boundaries. Wrap with fmt.Errorf
// and %w so callers can still match with errors.Is.
var (
	// ErrInvalidInfo is returned when .decsync-info exists but cannot be
	// parsed or is structurally wrong.
	ErrInvalidInfo = errors.New("decsync: invalid .decsync-info")

	// ErrUnsupportedVersion is returned when .decsync-info declares a
	// version newer than this build understands.
	ErrUnsupportedVersion = errors.New("decsync: unsupported version")

	// ErrAppNotFound names the condition of an app-scoped query on an
	// app-id with no data under the given version. No function in this
	// module returns it: DeleteAppData on such an app-id succeeds.
	ErrAppNotFound = errors.New("decsync: app not found")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("decsync: instance closed")
)

// entryParseError describes a malformed on-disk line, an internal
// condition: such lines are logged and skipped, never surfaced to a
// caller. No code path in this module constructs it.
type entryParseError struct {
	path   string
	offset int64
	cause  error
}

func (e *entryParseError) Error() string {
	return "decsync: entry parse failure at " + e.path
}

func (e *entryParseError) Unwrap() error { return e.cause }
