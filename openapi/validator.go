package openapi

import (
	"fmt"
	"net/http"
	"strings"

	validator "github.com/pb33f/libopenapi-validator"
	validatorErrors "github.com/pb33f/libopenapi-validator/errors"
)

// ValidationError wraps libopenapi-validator findings for one exchange.
type ValidationError struct {
	Message string
	Errors  []*validatorErrors.ValidationError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	details := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		msg := d.Message
		if d.Reason != "" {
			msg += ": " + d.Reason
		}
		details = append(details, msg)
	}
	return e.Message + ": " + strings.Join(details, "; ")
}

// Validator checks live HTTP exchanges against the OpenAPI document they
// were converted from. It satisfies client.ResponseValidator.
type Validator struct {
	validator validator.Validator
}

// NewValidator builds a validator for spec.
func NewValidator(spec *Spec) (*Validator, error) {
	v, errs := validator.NewValidator(spec.Document)
	if len(errs) > 0 {
		return nil, fmt.Errorf("building OpenAPI validator: %w", errs[0])
	}
	return &Validator{validator: v}, nil
}

// ValidateRequest checks an outgoing request before it is sent.
func (v *Validator) ValidateRequest(req *http.Request) error {
	valid, errs := v.validator.ValidateHttpRequestSync(req)
	if valid {
		return nil
	}
	return &ValidationError{Message: "request validation failed", Errors: errs}
}

// ValidateResponse checks a response against the operation that produced it.
func (v *Validator) ValidateResponse(req *http.Request, resp *http.Response) error {
	valid, errs := v.validator.ValidateHttpResponse(req, resp)
	if valid {
		return nil
	}
	return &ValidationError{Message: "response validation failed", Errors: errs}
}
