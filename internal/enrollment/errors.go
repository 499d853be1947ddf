package enrollment

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrInvalidEvent   = errors.New("invalid encounter saved event", j.C("ERR_3e9a51c07d2b84f6"))
	ErrStrategyPanic  = errors.New("strategy panicked", j.C("ERR_a62f08d1e5b3c794"))
	ErrNoActiveRecord = errors.New("no active enrollment", j.C("ERR_0c7d94e2b1a8f356"))
)
