package journal

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RetrySink decorates another Sink, retrying failed writes a fixed number of
// times with a constant delay. The error of the last attempt is returned.
type RetrySink struct {
	inner    Sink
	attempts int
	delay    time.Duration
}

// NewRetrySink wraps inner. attempts below 1 mean a single attempt; a zero
// delayMs defaults to 1000ms.
func NewRetrySink(inner Sink, attempts int, delayMs int) Sink {
	if inner == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	return &RetrySink{
		inner:    inner,
		attempts: attempts,
		delay:    time.Duration(delayMs) * time.Millisecond,
	}
}

func (r *RetrySink) Write(evt Event) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.inner.Write(evt)
		if err == nil {
			return nil
		}

		logrus.Warnf("journal write failed (attempt %d/%d): %v", attempt, r.attempts, err)

		if attempt < r.attempts {
			time.Sleep(r.delay)
		}
	}
	return err
}
