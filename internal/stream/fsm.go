package stream

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
)

var errInvalidTransition = fmt.Errorf("invalid job state transition")

// jobFSM tracks the lifecycle of one remote report job. Jobs are owned
// by a single goroutine; the FSM exists to catch impossible status
// sequences reported by the remote side and to log transitions.
type jobFSM struct {
	transitions map[platform.JobStatus]map[platform.JobStatus]struct{}

	current platform.JobStatus
	logger  *zap.Logger
}

func newJobFSM(logger *zap.Logger) *jobFSM {
	return &jobFSM{
		current: platform.JobCreated,
		logger:  logger,
		transitions: map[platform.JobStatus]map[platform.JobStatus]struct{}{
			platform.JobCreated: {
				platform.JobRunning:   {},
				platform.JobCompleted: {}, // tiny jobs can complete between polls
				platform.JobFailed:    {},
			},
			platform.JobRunning: {
				platform.JobCompleted: {},
				platform.JobFailed:    {},
			},
		},
	}
}

func (f *jobFSM) Current() platform.JobStatus {
	return f.current
}

func (f *jobFSM) Transition(to platform.JobStatus) error {
	if to == f.current {
		return nil
	}

	if _, ok := f.transitions[f.current][to]; !ok {
		f.logger.Error("invalid job state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return errInvalidTransition
	}

	previous := f.current
	f.current = to

	f.logger.Debug("job state transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
