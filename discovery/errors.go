package discovery

import "fmt"

// SchemaError reports a malformed discovery document.
type SchemaError struct {
	Message string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid discovery document: %s: %v", e.Message, e.Err)
	}
	return "invalid discovery document: " + e.Message
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports caller-supplied arguments that do not satisfy a
// method's parameter or body schema. Param names the offending parameter;
// "body" and "media" are used for the request payloads.
type ValidationError struct {
	Method string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Method, e.Param, e.Reason)
}

// NotFoundError reports a dotted method path that the document does not declare.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.Path)
}
