package health

import "time"

const (
	DefaultSuccessReward    = 5.0
	DefaultFailurePenalty   = 10.0
	DefaultFailureThreshold = 3
	DefaultRecoveryTime     = 300 * time.Second
	DefaultRecoveredScore   = 50.0
	DefaultEventLimit       = 50
)

type Config struct {
	SuccessReward  float64
	FailurePenalty float64

	// ConsecutiveFailureThreshold failures in a row mark a provider unavailable.
	ConsecutiveFailureThreshold int

	// RecoveryTime after the last failure, an unavailable provider is given
	// another chance by CheckHealth.
	RecoveryTime time.Duration

	// RecoveredScore is the score a provider restarts from after auto-recovery.
	RecoveredScore float64

	// RecordAllEvents appends a success or failure event for every call in
	// addition to the degraded and recovered events.
	RecordAllEvents bool
}

func DefaultConfig() Config {
	return Config{
		SuccessReward:               DefaultSuccessReward,
		FailurePenalty:              DefaultFailurePenalty,
		ConsecutiveFailureThreshold: DefaultFailureThreshold,
		RecoveryTime:                DefaultRecoveryTime,
		RecoveredScore:              DefaultRecoveredScore,
	}
}

func (c Config) withDefaults() Config {
	if c.SuccessReward <= 0 {
		c.SuccessReward = DefaultSuccessReward
	}
	if c.FailurePenalty <= 0 {
		c.FailurePenalty = DefaultFailurePenalty
	}
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTime <= 0 {
		c.RecoveryTime = DefaultRecoveryTime
	}
	if c.RecoveredScore <= 0 || c.RecoveredScore > 100 {
		c.RecoveredScore = DefaultRecoveredScore
	}

	return c
}
