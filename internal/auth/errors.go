package auth

import "errors"

var ErrEmptyClientID = errors.New("client id cannot be empty")
