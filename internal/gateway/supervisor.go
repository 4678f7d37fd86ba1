package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised daemon.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
	StateGivingUp State = "giving_up"
)

// Defaults applied by NewSupervisor.
const (
	DefaultRestartDelay    = 2 * time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultStopTimeout     = 5 * time.Second
	DefaultCheckInterval   = 15 * time.Second
	DefaultCheckFailures   = 3

	// stableAfter is how long a run must last before the restart delay
	// falls back to RestartDelay.
	stableAfter = 2 * time.Minute

	checkTimeout = 3 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("gateway: already running")

// Config describes the daemon to supervise.
type Config struct {
	Name   string
	Binary string
	Args   []string

	// Env is appended to the bridge's own environment.
	Env []string

	// RestartDelay is the first delay after an unexpected exit. It doubles
	// on every consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts stops supervision after that many consecutive failures.
	// 0 means unlimited.
	MaxRestarts int

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration

	// Check, when set, runs every CheckInterval while the daemon is up.
	// After CheckFailures consecutive failures the daemon is killed and
	// restarted.
	Check         func(ctx context.Context) error
	CheckInterval time.Duration
	CheckFailures int
}

// Logger is the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a point-in-time view of the supervisor.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Supervisor runs one daemon and keeps it alive.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg Config

	loggerMu sync.RWMutex
	logger   Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	started  time.Time
	restarts int
	failures int
	lastErr  error
	stopErr  error
	stop     chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a stopped supervisor, filling zero fields of cfg
// with the package defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(DefaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.CheckFailures <= 0 {
		cfg.CheckFailures = DefaultCheckFailures
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, state: StateStopped}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start launches the daemon and the supervision loop. It fails when the
// binary cannot be started at all; later exits are handled by restarting.
// Cancelling ctx stops the daemon like Stop does.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.restarts, s.failures = 0, 0
	s.stopErr = nil
	s.mu.Unlock()

	cmd, err := s.spawn()
	if err != nil {
		s.setFailed(err)
		return err
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	s.stop, s.done = stop, done
	s.mu.Unlock()

	go s.supervise(ctx, cmd, stop, done)
	return nil
}

// Stop terminates the daemon and waits for the supervision loop to end.
// It is safe to call on a stopped supervisor.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = nil
	s.state = StateStopped
	return s.stopErr
}

// Stats returns the current supervisor state.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Name: s.cfg.Name, State: s.state, Restarts: s.restarts}
	if s.cmd != nil && s.cmd.Process != nil && s.state == StateRunning {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// spawn starts one instance of the daemon in its own process group.
func (s *Supervisor) spawn() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary and args come from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("gateway %s: stdout: %w", s.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("gateway %s: stderr: %w", s.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("gateway %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.pipeLines("stdout", stdout)
	go s.pipeLines("stderr", stderr)

	s.log().Info("gateway started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// pipeLines logs the daemon's output line by line.
func (s *Supervisor) pipeLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.log().Debug("gateway output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// supervise waits on the current run and restarts after unexpected exits.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		runStart := time.Now()
		stopped, err := s.wait(ctx, cmd, stop)
		if stopped {
			s.mu.Lock()
			s.stopErr = err
			s.mu.Unlock()
			s.setState(StateStopped)
			return
		}

		ran := time.Since(runStart)
		if err == nil {
			err = errors.New("exited")
		}
		s.log().Warn("gateway exited", "name", s.cfg.Name, "error", err,
			"ran_for", ran.Round(time.Second))

		for {
			delay, ok := s.recordFailure(err, ran)
			if !ok {
				s.log().Error("gateway keeps failing, giving up", "name", s.cfg.Name,
					"failures", s.cfg.MaxRestarts)
				return
			}

			select {
			case <-ctx.Done():
				s.setState(StateStopped)
				return
			case <-stop:
				s.setState(StateStopped)
				return
			case <-time.After(delay):
			}

			cmd, err = s.spawn()
			if err == nil {
				break
			}
			s.log().Error("gateway restart failed", "name", s.cfg.Name, "error", err)
			ran = 0
		}
	}
}

// recordFailure counts a failed run and returns the delay before the next
// attempt. ok is false once MaxRestarts consecutive failures are reached.
func (s *Supervisor) recordFailure(err error, ran time.Duration) (delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ran >= stableAfter {
		s.failures = 0
	}
	s.failures++
	s.lastErr = err

	if s.cfg.MaxRestarts > 0 && s.failures > s.cfg.MaxRestarts {
		s.state = StateGivingUp
		return 0, false
	}

	s.restarts++
	s.state = StateBackoff
	s.cmd = nil
	return restartDelay(s.cfg.RestartDelay, s.cfg.MaxRestartDelay, s.failures), true
}

// restartDelay doubles base for every consecutive failure after the first.
func restartDelay(base, ceiling time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// wait blocks until the run exits, is stopped, or the check has failed
// CheckFailures times in a row, in which case the run is killed. stopped
// reports a requested shutdown.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}) (stopped bool, err error) {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var tick <-chan time.Time
	if s.cfg.Check != nil {
		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failed := 0
	for {
		select {
		case err := <-exited:
			return false, err
		case <-ctx.Done():
			return true, s.terminate(cmd, exited)
		case <-stop:
			return true, s.terminate(cmd, exited)
		case <-tick:
			pctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := s.cfg.Check(pctx)
			cancel()
			if err == nil {
				failed = 0
				continue
			}
			failed++
			s.log().Warn("gateway check failed", "name", s.cfg.Name, "error", err, "consecutive", failed)
			if failed < s.cfg.CheckFailures {
				continue
			}
			_ = signalGroup(cmd, syscall.SIGKILL)
			<-exited
			return false, fmt.Errorf("killed after %d failed checks: %w", failed, err)
		}
	}
}

// terminate sends SIGTERM to the daemon's process group, then SIGKILL
// after StopTimeout, and waits for the exit.
func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan error) error {
	s.log().Info("stopping gateway", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		return fmt.Errorf("gateway %s: %w", s.cfg.Name, err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(s.cfg.StopTimeout):
	}

	s.log().Warn("gateway ignored SIGTERM, killing", "name", s.cfg.Name, "timeout", s.cfg.StopTimeout)
	if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
		return fmt.Errorf("gateway %s: %w", s.cfg.Name, err)
	}
	<-exited
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Supervisor) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastErr = err
	s.cmd = nil
}

// signalGroup signals the whole process group. A group that is already
// gone is not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// DialCheck returns a check that succeeds when addr accepts a TCP
// connection.
func DialCheck(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
