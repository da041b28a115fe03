package modeengine

import "errors"

// ErrInvalidMode is returned by SetMode for an unrecognized mode string.
var ErrInvalidMode = errors.New("vcrproxy: invalid mode")
