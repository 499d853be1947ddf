package sweep

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler triggers a Runner on a cron spec. A trigger that fires while the
// previous run is still going is dropped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(spec string, r Runner, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "sweep-scheduler").Logger()
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: r,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, errors.Wrap(err, "parse sweep schedule")
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("sweep scheduler started")
}

// Stop cancels the in-flight run and waits for it to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.ctx.Err() != nil {
		return
	}
	report, err := s.runner.Run(s.ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		s.logger.Info().Msg("sweep already running, trigger dropped")
		return
	} else if errors.Is(err, context.Canceled) {
		s.logger.Info().Msg("sweep interrupted by shutdown")
		return
	} else if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}

	total := 0
	for _, pr := range report.Programs {
		total += pr.Completed
	}
	s.logger.Info().Int("completed", total).Dur("took", report.Duration).Msg("sweep finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
