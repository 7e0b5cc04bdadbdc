package booking

import (
	"context"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// step is one saga action with its optional compensation.
type step struct {
	name       string
	action     func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

type saga struct {
	name    string
	steps   []step
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// run executes the steps in order. On the first failure the completed steps
// are compensated in reverse and the failure is returned unchanged.
func (s *saga) run(ctx context.Context) error {
	done := make([]step, 0, len(s.steps))
	for _, st := range s.steps {
		if err := st.action(ctx); err != nil {
			s.logger.Warn("saga step failed",
				"saga", s.name,
				"step", st.name,
				"error", err,
			)
			s.unwind(ctx, done)
			return err
		}
		done = append(done, st)
	}
	return nil
}

// unwind runs on a context detached from the request so a cancelled client
// does not leave half-applied state behind.
func (s *saga) unwind(ctx context.Context, done []step) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.compensate == nil {
			continue
		}
		err := st.compensate(cctx)
		s.metrics.ObserveCompensation(st.name, err == nil)
		if err != nil {
			s.logger.Error("saga compensation failed",
				"saga", s.name,
				"step", st.name,
				"error", err,
			)
			continue
		}
		s.logger.Info("saga step compensated", "saga", s.name, "step", st.name)
	}
}
