package processor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers missing or bad input
	KindValidation
	// KindDecode covers unreadable media
	KindDecode
	// KindComposition covers placement or compositing failures
	KindComposition
	// KindEncode covers export failures
	KindEncode
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindComposition:
		return "composition"
	case KindEncode:
		return "encode"
	}
	return "unknown"
}

// Error is a classified pipeline failure. Asset names the input involved, if any.
type Error struct {
	Kind  Kind
	Asset string
	Err   error
}

func (e *Error) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Asset, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *Error) Cause() error { return e.Err }

// ErrMissingClip is returned when hook, body or cta is absent.
var ErrMissingClip = errors.New("missing required clip")

func validationError(asset string, err error) error {
	return &Error{Kind: KindValidation, Asset: asset, Err: err}
}

func decodeError(asset string, err error) error {
	return &Error{Kind: KindDecode, Asset: asset, Err: errors.WithStack(err)}
}

func compositionError(asset string, err error) error {
	return &Error{Kind: KindComposition, Asset: asset, Err: errors.WithStack(err)}
}

func encodeError(err error) error {
	return &Error{Kind: KindEncode, Err: errors.WithStack(err)}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}
