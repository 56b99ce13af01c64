// Package regerr holds the error kinds shared by the register engine layers
// and the sink through which they are reported to the host.
package regerr

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Kind int

const (
	KindNone Kind = iota
	KindUnbound
	KindTransport
	KindVerifyMismatch
	KindInvalidValue
	KindReadOnly
	KindUnknownChipOrVersion
	KindInvalidIndexer
	KindNotSupported
	KindOther
)

var kindNames = map[Kind]string{
	KindNone:                 "none",
	KindUnbound:              "unbound",
	KindTransport:            "transport",
	KindVerifyMismatch:       "verify-mismatch",
	KindInvalidValue:         "invalid-value",
	KindReadOnly:             "read-only",
	KindUnknownChipOrVersion: "unknown-chip-or-version",
	KindInvalidIndexer:       "invalid-indexer",
	KindNotSupported:         "not-supported",
	KindOther:                "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// UnboundError is returned when a space without an I²C address is accessed.
type UnboundError struct {
	Space string
}

func (e *UnboundError) Error() string {
	return fmt.Sprintf("address space %q has no I2C address bound", e.Space)
}

// TransportError wraps a failure reported by the bus.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err unless it already is a TransportError.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.Cause(err).(*TransportError); ok {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// VerifyError lists the register addresses whose readback differed from the
// value just written.
type VerifyError struct {
	Addresses []uint32
}

func (e *VerifyError) Error() string {
	parts := make([]string, len(e.Addresses))
	for i, a := range e.Addresses {
		parts[i] = fmt.Sprintf("0x%04x", a)
	}
	return "write verification failed at addresses {" + strings.Join(parts, ", ") + "}"
}

type InvalidValueError struct {
	Register string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("register %s holds no valid value", e.Register)
}

type ReadOnlyError struct {
	Register string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("register %s is read-only", e.Register)
}

// IncompatibleConfigError is returned when a saved configuration belongs to a
// different chip or chip version.
type IncompatibleConfigError struct {
	Field string
	Want  string
	Got   string
}

func (e *IncompatibleConfigError) Error() string {
	return fmt.Sprintf("incompatible config: %s is %q, expected %q", e.Field, e.Got, e.Want)
}

type InvalidIndexerError struct {
	Name   string
	Value  int
	Reason string
}

func (e *InvalidIndexerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("indexer %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("indexer %s: value %d out of range", e.Name, e.Value)
}

// KindOf classifies err. For aggregated errors the kind of the first member
// is returned.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	cause := errors.Cause(err)
	if m, ok := cause.(*MultiError); ok {
		if len(m.errs) == 0 {
			return KindNone
		}
		return KindOf(m.errs[0])
	}

	if errors.IsNotSupported(cause) {
		return KindNotSupported
	}

	switch cause.(type) {
	case *UnboundError:
		return KindUnbound
	case *TransportError:
		return KindTransport
	case *VerifyError:
		return KindVerifyMismatch
	case *InvalidValueError:
		return KindInvalidValue
	case *ReadOnlyError:
		return KindReadOnly
	case *IncompatibleConfigError:
		return KindUnknownChipOrVersion
	case *InvalidIndexerError:
		return KindInvalidIndexer
	}
	return KindOther
}

// VerifyAddresses collects the failing addresses of every verification error
// contained in err.
func VerifyAddresses(err error) []uint32 {
	var result []uint32
	for _, e := range Flatten(err) {
		if v, ok := errors.Cause(e).(*VerifyError); ok {
			result = append(result, v.Addresses...)
		}
	}
	return result
}
