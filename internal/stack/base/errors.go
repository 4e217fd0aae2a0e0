package base

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrServiceBusy    = errors.New("service busy")
	ErrMaxRetransmit  = errors.New("max retransmissions reached")
	ErrDupMessageID   = errors.New("message id duplicate")
	ErrNoToken        = errors.New("no token")
	ErrNilAddress     = errors.New("nil remote address")
	ErrLayerClosed    = errors.New("layer closed")
	ErrUnexpectedType = errors.New("unexpected message type")
)

type Error struct {
	Layer   string
	Cause   error
	Details string
}

func (e Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v(%s)", e.Layer, e.Cause, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Layer, e.Cause)
}

func (e Error) Unwrap() error {
	return e.Cause
}
