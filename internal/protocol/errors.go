package protocol

import "fmt"

// ProtocolError reports a frame that could not be encoded or decoded:
// malformed JSON, an unknown tag, or content matching no variant.
type ProtocolError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("protocol: %s: %s: %v", e.Op, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("protocol: %s: %s", e.Op, e.Detail)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
