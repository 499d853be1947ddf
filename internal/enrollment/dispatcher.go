package enrollment

import (
	"context"
	"fmt"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/metrics"
)

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Outcome summarises one dispatch.
type Outcome struct {
	Ran    int      `json:"ran"`
	Failed []string `json:"failed,omitempty"`
}

// Dispatcher hands every saved encounter to all registered strategies.
type Dispatcher struct {
	strategies []Strategy
	tx         Transactor
	logger     zerolog.Logger
}

func NewDispatcher(tx Transactor, logger zerolog.Logger, strategies ...Strategy) *Dispatcher {
	return &Dispatcher{
		strategies: strategies,
		tx:         tx,
		logger:     logger.With().Str("component", "encounter-dispatcher").Logger(),
	}
}

// Handle runs each strategy in its own transaction. Failures are logged and
// counted, and never stop the remaining strategies or reach the caller.
func (d *Dispatcher) Handle(ctx context.Context, ev SaveEvent) Outcome {
	var out Outcome
	for _, s := range d.strategies {
		out.Ran++
		if err := d.run(ctx, s, ev); err != nil {
			out.Failed = append(out.Failed, s.Name())
			metrics.StrategyErrors.WithLabelValues(s.Name()).Inc()
			d.logger.Error().Err(err).
				Str("strategy", s.Name()).
				Str("patient_id", ev.Encounter.PatientID.String()).
				Str("reason", ev.Reason).
				Msg("strategy failed")
		}
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, s Strategy, ev SaveEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrStrategyPanic, fmt.Sprint(r), j.KV("strategy", s.Name()))
		}
	}()
	return d.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.Apply(ctx, ev)
	})
}
