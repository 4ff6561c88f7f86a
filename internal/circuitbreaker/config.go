package circuitbreaker

import "time"

// DefaultConfig provides balanced settings for most dependencies
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// AggressiveConfig for dependencies requiring fast failure detection
func AggressiveConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ConservativeConfig for dependencies that should tolerate more failures,
// such as slow batch computations that fail transiently.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold: 10,
		RecoveryTimeout:  2 * time.Minute,
		HalfOpenMaxCalls: 5,
	}
}
