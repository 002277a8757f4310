package ratelimit

import "time"

// Clock supplies the current time for window arithmetic. Injectable via
// WithClock so tests can slide the window without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
