package dunning

import "errors"

var (
	ErrNotFound      = errors.New("dunning: attempt not found")
	ErrNoAttemptsDue = errors.New("dunning: no attempts due")
	ErrInvalidParams = errors.New("dunning: invalid parameters")
)
