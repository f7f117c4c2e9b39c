package session

import "errors"

// ErrInvalidSession is returned when saving a nil session or one without a user id.
var ErrInvalidSession = errors.New("session: missing user id")
