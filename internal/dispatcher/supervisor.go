package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// DefaultStopTimeout bounds how long a supervisor waits for workers to exit
// before killing them.
const DefaultStopTimeout = 10 * time.Second

// Supervisor owns the lifecycle of the worker pool. Supervisors are single use.
type Supervisor interface {
	// Start launches one worker per task.
	Start(ctx context.Context, tasks []crawler.CrawlTask) error
	// Done is closed once every started worker has exited.
	Done() <-chan struct{}
	// Stop terminates all workers and waits for them to exit.
	Stop(ctx context.Context) error
}

// Runner is a worker that blocks until ctx ends. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFactory builds the worker with the given ID.
type RunnerFactory func(id string) (Runner, error)

// WorkerIDs names one worker per task after its seed, suffixing repeats.
func WorkerIDs(tasks []crawler.CrawlTask) []string {
	seen := make(map[string]int, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		name := crawler.WorkerName(t.SeedURL)
		seen[name]++
		if n := seen[name]; n > 1 {
			name += "_" + strconv.Itoa(n)
		}
		ids = append(ids, name)
	}
	return ids
}

// GoroutineSupervisor runs workers as goroutines in the current process.
type GoroutineSupervisor struct {
	factory RunnerFactory
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGoroutineSupervisor constructs a GoroutineSupervisor.
func NewGoroutineSupervisor(factory RunnerFactory, logger *zap.Logger) *GoroutineSupervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutineSupervisor{factory: factory, logger: logger.Named("supervisor"), done: make(chan struct{})}
}

// Start builds every worker before launching any, so a factory error leaves
// nothing running.
func (s *GoroutineSupervisor) Start(ctx context.Context, tasks []crawler.CrawlTask) error {
	ids := WorkerIDs(tasks)
	runners := make([]Runner, 0, len(ids))
	for _, id := range ids {
		r, err := s.factory(id)
		if err != nil {
			return fmt.Errorf("%w: build worker %s: %w", crawler.ErrDispatch, id, err)
		}
		runners = append(runners, r)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		s.logger.Info("starting worker", zap.String("worker_id", ids[i]))
		go func() {
			defer wg.Done()
			r.Run(runCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()
	return nil
}

// Done is closed once every worker goroutine has returned.
func (s *GoroutineSupervisor) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the workers and waits for them, or for ctx.
func (s *GoroutineSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-s.done:
		s.logger.Info("all workers have been stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

// ProcessConfig configures a ProcessSupervisor.
type ProcessConfig struct {
	// Executable defaults to the running binary.
	Executable string
	// Args precede the "worker --id <id>" subcommand, e.g. "--config", path.
	Args        []string
	StopTimeout time.Duration
}

// ProcessSupervisor runs one OS process per worker via the binary's worker subcommand.
type ProcessSupervisor struct {
	cfg    ProcessConfig
	logger *zap.Logger

	mu    sync.Mutex
	procs []*exec.Cmd
	done  chan struct{}
}

// NewProcessSupervisor constructs a ProcessSupervisor.
func NewProcessSupervisor(cfg ProcessConfig, logger *zap.Logger) (*ProcessSupervisor, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSupervisor{cfg: cfg, logger: logger.Named("supervisor"), done: make(chan struct{})}, nil
}

// Command returns the command line used for worker id.
func (s *ProcessSupervisor) Command(id string) []string {
	args := append([]string{s.cfg.Executable}, s.cfg.Args...)
	return append(args, "worker", "--id", id)
}

// Start launches the worker processes. Processes started before a failure
// are killed.
func (s *ProcessSupervisor) Start(_ context.Context, tasks []crawler.CrawlTask) error {
	var wg sync.WaitGroup
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		go func() {
			wg.Wait()
			close(s.done)
		}()
	}()
	for _, id := range WorkerIDs(tasks) {
		argv := s.Command(id)
		cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // re-executes this binary
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			for _, p := range s.procs {
				_ = p.Process.Kill()
			}
			return fmt.Errorf("%w: start worker %s: %w", crawler.ErrDispatch, id, err)
		}
		s.logger.Info("started worker process", zap.String("worker_id", id), zap.Int("pid", cmd.Process.Pid))
		s.procs = append(s.procs, cmd)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				s.logger.Warn("worker process exited", zap.String("worker_id", id), zap.Error(err))
			}
		}()
	}
	return nil
}

// Done is closed once every worker process has exited.
func (s *ProcessSupervisor) Done() <-chan struct{} {
	return s.done
}

// Stop interrupts every worker, then kills whatever is still running after
// the stop timeout.
func (s *ProcessSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	procs := append([]*exec.Cmd(nil), s.procs...)
	s.mu.Unlock()
	if len(procs) == 0 {
		return nil
	}

	for _, p := range procs {
		s.logger.Info("terminating worker", zap.Int("pid", p.Process.Pid))
		if err := p.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("interrupt worker failed", zap.Int("pid", p.Process.Pid), zap.Error(err))
		}
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		s.logger.Info("all workers have been stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	var errs []error
	for _, p := range procs {
		if err := p.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill worker %d: %w", p.Process.Pid, err))
		}
	}
	<-s.done
	return errors.Join(errs...)
}
