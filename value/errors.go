package value

import "fmt"

// EncodingError reports a value whose runtime type has no Value form.
type EncodingError struct {
	// Path is the document being processed. Encode leaves it empty; the exporter fills it in.
	Path string

	// Field is the dotted field path inside the document ("address.geo", "tags[2]").
	Field string

	// Type is the runtime type of the offending value.
	Type string

	Err error
}

func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("ddbmigrate: cannot encode value of type %s", e.Type)
	if e.Field != "" {
		msg += fmt.Sprintf(" in field %q", e.Field)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" of document %s", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() error { return e.Err }
