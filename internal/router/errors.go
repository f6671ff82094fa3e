package router

import "errors"

var ErrUnknownMessage = errors.New("unknown message variant")
