package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"otp-service/internal/config"
)

// Arm identifies one side of an experiment.
type Arm string

const (
	ArmDefault     Arm = "default"
	ArmTenDigitOTP Arm = "ten_digit_otp"
)

// Experiment deterministically assigns users into arms. Assignment is a
// pure function of (experiment name, stable user id): the same user always
// lands in the same arm, and renaming the experiment reshuffles everyone.
type Experiment struct {
	Name       string
	Enabled    bool
	percentage int
	treatment  Arm

	hasherPool sync.Pool
}

// NewTenDigitOTPExperiment builds the voice ten-digit OTP experiment from
// configuration.
func NewTenDigitOTPExperiment(cfg *config.Config) *Experiment {
	return newExperiment(
		cfg.ABTest.ExperimentName,
		cfg.ABTest.TenDigitOTPEnabled,
		cfg.ABTest.TenDigitOTPPercent,
		ArmTenDigitOTP,
	)
}

func newExperiment(name string, enabled bool, percentage int, treatment Arm) *Experiment {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	e := &Experiment{
		Name:       name,
		Enabled:    enabled,
		percentage: percentage,
		treatment:  treatment,
	}
	e.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return e
}

// Bucket returns the arm for a stable user identifier. Disabled experiments
// put everyone in the default arm.
func (e *Experiment) Bucket(stableUserID string) Arm {
	if !e.Enabled || stableUserID == "" {
		return ArmDefault
	}
	if e.percentile(stableUserID) < e.percentage {
		return e.treatment
	}
	return ArmDefault
}

// percentile maps the user onto [0, 100).
func (e *Experiment) percentile(stableUserID string) int {
	hasher := e.hasherPool.Get().(hash.Hash64)
	defer e.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(e.Name))
	hasher.Write([]byte(":"))
	hasher.Write([]byte(stableUserID))
	return int(hasher.Sum64() % 100)
}
