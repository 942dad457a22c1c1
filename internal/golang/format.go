package golang

import (
	"fmt"

	"golang.org/x/tools/imports"
)

// FormatError reports generated source that is not valid Go, usually the
// output of a broken custom template.
type FormatError struct {
	Filename string
	Err      error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("formatting %s: %v", e.Filename, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Format gofmts generated source and drops imports it does not use.
// filename only labels errors.
func Format(filename string, src []byte) ([]byte, error) {
	out, err := imports.Process("", src, &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, &FormatError{Filename: filename, Err: err}
	}
	return out, nil
}
