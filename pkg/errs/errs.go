// Package errs defines the closed error taxonomy shared by the promptrun
// pipeline. Each failure a caller can observe is marked with exactly one of
// the sentinel errors below, so call sites classify with errors.Is regardless
// of how much context was wrapped around the original cause.
package errs

import "github.com/cockroachdb/errors"

var (
	// ErrMissingRequiredOption reports a template option that is mandatory
	// but had no value supplied on the command line.
	ErrMissingRequiredOption = errors.New("missing required option")

	// ErrArgumentParse reports a malformed token stream: unknown flag, wrong
	// arity, or a value that failed type coercion.
	ErrArgumentParse = errors.New("argument parse failure")

	// ErrIO reports a file or image that could not be read or canonicalized.
	ErrIO = errors.New("i/o failure")

	// ErrTemplateNotFound reports a template name that resolved to nothing in
	// any configuration directory.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrEmptyTemplate reports a template with neither an inline body nor a
	// body file reference.
	ErrEmptyTemplate = errors.New("template has no content")

	// ErrRender reports a template rendering failure (syntax error or
	// undefined variable).
	ErrRender = errors.New("render failure")

	// ErrContextLimitExceeded reports a prompt that cannot be truncated into
	// the model's token budget.
	ErrContextLimitExceeded = errors.New("context limit exceeded")

	// ErrBackendTransport reports a connection-level failure talking to a
	// model backend.
	ErrBackendTransport = errors.New("backend transport failure")

	// ErrBackendProtocol reports a response the backend emitted that could
	// not be decoded.
	ErrBackendProtocol = errors.New("backend protocol failure")

	// ErrBackendModel reports an error the backend or model itself returned.
	ErrBackendModel = errors.New("backend model failure")
)

// Mark wraps err with a formatted message and tags it with kind. The result
// matches kind under errors.Is while keeping the original cause attached.
func Mark(kind, err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}

// New creates a fresh error tagged with kind.
func New(kind error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}
