// Package supervisor owns the long-running service processes: it starts
// them, watches for exits, applies a bounded restart budget, and fans out
// termination signals on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stackinit/internal/logx"
)

// State of a supervised process.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateStopped State = "stopped"
)

// Program is one process to supervise.
type Program struct {
	Name string
	Argv []string
}

// ProgramStatus is a point-in-time view of one supervised process.
type ProgramStatus struct {
	Name      string    `json:"name"`
	Status    State     `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// Options tune supervision behavior.
type Options struct {
	// MaxRestarts is the per-program restart budget. 0 means any exit is
	// fatal for the whole container.
	MaxRestarts int
	// StopGrace is how long children get after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

// Supervisor runs a fixed set of programs.
type Supervisor struct {
	programs []Program
	opts     Options
	log      *logx.Logger
	metrics  *metrics

	mu       sync.Mutex
	procs    map[string]*proc
	stopping bool

	wg    sync.WaitGroup
	fatal chan error
}

type proc struct {
	program   Program
	cmd       *exec.Cmd
	state     State
	pid       int
	restarts  int
	startedAt time.Time
	lastErr   error
}

// New builds a Supervisor for the given programs and registers its metrics.
func New(programs []Program, opts Options, reg prometheus.Registerer) *Supervisor {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	return &Supervisor{
		programs: programs,
		opts:     opts,
		log:      logx.New("supervisor"),
		metrics:  newMetrics(reg),
		procs:    map[string]*proc{},
		fatal:    make(chan error, 1),
	}
}

// Start launches every program. If any fails to start, the already started
// ones are stopped and the error is returned.
func (s *Supervisor) Start() error {
	for _, prog := range s.programs {
		p := &proc{program: prog}
		if err := s.launch(p); err != nil {
			s.Stop()
			return fmt.Errorf("start %s: %w", prog.Name, err)
		}
		s.mu.Lock()
		s.procs[prog.Name] = p
		s.mu.Unlock()

		s.wg.Add(1)
		go s.monitor(p)
	}
	s.log.Info("all_programs_started", map[string]any{"count": len(s.programs)})
	return nil
}

func (s *Supervisor) launch(p *proc) error {
	cmd := exec.Command(p.program.Argv[0], p.program.Argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.state = StateRunning
	p.startedAt = time.Now()
	s.metrics.up.WithLabelValues(p.program.Name).Set(1)
	s.log.Info("program_started", map[string]any{"program": p.program.Name, "pid": p.pid})
	return nil
}

// monitor waits for a process to exit and either restarts it within its
// budget or declares the run fatal.
func (s *Supervisor) monitor(p *proc) {
	defer s.wg.Done()
	for {
		err := p.cmd.Wait()

		s.mu.Lock()
		s.metrics.up.WithLabelValues(p.program.Name).Set(0)
		s.metrics.exits.WithLabelValues(p.program.Name).Inc()

		if s.stopping {
			p.state = StateStopped
			s.mu.Unlock()
			s.log.Info("program_stopped", map[string]any{"program": p.program.Name})
			return
		}

		if p.restarts < s.opts.MaxRestarts {
			p.restarts++
			s.metrics.restarts.WithLabelValues(p.program.Name).Inc()
			s.log.Warn("program_restarting", map[string]any{
				"program": p.program.Name,
				"attempt": p.restarts,
				"reason":  errString(err),
			})
			lerr := s.launch(p)
			s.mu.Unlock()
			if lerr == nil {
				continue
			}
			err = lerr
			s.mu.Lock()
		}

		p.state = StateExited
		p.lastErr = err
		s.mu.Unlock()

		fatalErr := fmt.Errorf("%s exited unexpectedly: %s", p.program.Name, errString(err))
		s.log.Error("program_exited", err, map[string]any{"program": p.program.Name})
		select {
		case s.fatal <- fatalErr:
		default:
		}
		return
	}
}

// Wait blocks until a child exhausts its restart budget (returning the fatal
// error) or the context is canceled (returning nil; the caller stops the
// supervisor).
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.fatal:
		return err
	}
}

// Stop terminates all children: SIGTERM first, SIGKILL after the grace
// period, then reaps every monitor goroutine.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	for _, p := range s.procs {
		if p.state == StateRunning && p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.StopGrace):
		s.mu.Lock()
		for _, p := range s.procs {
			if p.state == StateRunning && p.cmd != nil && p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
		}
		s.mu.Unlock()
		<-done
	}
	s.log.Info("supervisor_stopped", nil)
}

// Snapshot returns the current status of every program, in start order.
func (s *Supervisor) Snapshot() []ProgramStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProgramStatus, 0, len(s.programs))
	for _, prog := range s.programs {
		p, ok := s.procs[prog.Name]
		if !ok {
			out = append(out, ProgramStatus{Name: prog.Name, Status: StateExited})
			continue
		}
		st := ProgramStatus{
			Name:      p.program.Name,
			Status:    p.state,
			Restarts:  p.restarts,
			StartedAt: p.startedAt,
		}
		if p.state == StateRunning {
			st.PID = p.pid
		}
		if p.lastErr != nil {
			st.Error = p.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// Healthy reports whether every program is currently running.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) != len(s.programs) {
		return false
	}
	for _, p := range s.procs {
		if p.state != StateRunning {
			return false
		}
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
