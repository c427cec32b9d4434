package statement

import "errors"

var (
	ErrInvalidMonth = errors.New("invalid month, expected YYYY-MM")
	ErrMonthOpen    = errors.New("statement month has not ended")
)
