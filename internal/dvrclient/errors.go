package dvrclient

import "fmt"

// Kind classifies the error taxonomy the stream engine raises. Callers branch
// on Kind (via errors.As against *Error) rather than string-matching messages.
type Kind int

const (
	// KindInvalidArgument covers a null URL, n >= capacity in Read, an unknown
	// seek whence, or malformed range header values.
	KindInvalidArgument Kind = iota
	// KindAllocationFailure covers buffer or HTTP handle allocation failures.
	KindAllocationFailure
	// KindTransportFailure covers an HTTP client transport error or a zero
	// response code (no response from host).
	KindTransportFailure
	// KindHTTPStatus covers a completed response outside 200-299. Code carries
	// the numeric status.
	KindHTTPStatus
	// KindProtocolFailure covers response headers that never completed before
	// the body started or the transfer ended.
	KindProtocolFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindAllocationFailure:
		return "allocation_failure"
	case KindTransportFailure:
		return "transport_failure"
	case KindHTTPStatus:
		return "http_status"
	case KindProtocolFailure:
		return "protocol_failure"
	default:
		return "unknown"
	}
}

// Error is the error type raised by the core. Code is only meaningful when
// Kind is KindHTTPStatus.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		if e.Message != "" {
			return fmt.Sprintf("dvrclient: %s: status %d: %s", e.Kind, e.Code, e.Message)
		}
		return fmt.Sprintf("dvrclient: %s: status %d", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("dvrclient: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("dvrclient: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

func allocationFailure(msg string, err error) *Error {
	return &Error{Kind: KindAllocationFailure, Message: msg, Err: err}
}

func transportFailure(msg string, err error) *Error {
	return &Error{Kind: KindTransportFailure, Message: msg, Err: err}
}

func httpStatus(code int) *Error {
	return &Error{Kind: KindHTTPStatus, Code: code, Message: "unexpected response status"}
}

func protocolFailure(msg string) *Error {
	return &Error{Kind: KindProtocolFailure, Message: msg}
}
