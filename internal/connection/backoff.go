package connection

import (
	"math"
	"time"
)

// Backoff constants. Every transport shares these so the operator sees the
// same retry cadence from MQTT and SignalK.
const (
	// MinDelay is the delay before the first retry.
	MinDelay = 1000 * time.Millisecond

	// MaxDelay caps the retry delay.
	MaxDelay = 30000 * time.Millisecond

	// BackoffMultiplier is the growth factor applied per failed attempt.
	BackoffMultiplier = 1.5
)

// Delay returns the wait before the retry that follows retryCount
// consecutive failures: min(MinDelay * 1.5^retryCount, MaxDelay).
//
// Negative counts are treated as zero.
func Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return MinDelay
	}

	d := float64(MinDelay) * math.Pow(BackoffMultiplier, float64(retryCount))
	if d >= float64(MaxDelay) || math.IsInf(d, 1) {
		return MaxDelay
	}
	return time.Duration(d)
}
