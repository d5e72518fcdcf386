package auth

import "errors"

var ErrProviderClosed = errors.New("auth provider closed")
