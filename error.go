package exchange

import "errors"

var (
	ErrInvalidParam   = errors.New("the param is invalid")
	ErrStaleOrder     = errors.New("order is already filled or unknown")
	ErrOrderBusy      = errors.New("order is being negotiated")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMalformedBody  = errors.New("message body is malformed")
)
