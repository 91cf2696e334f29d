// Package process implements the workspace process registry described in
// spec §4.5: it owns every externally spawned workspace process, exposes a
// polling API, enforces cleanup, and bounds memory via file-backed output
// capture. Ported from the runtime's terminal_manager.rs (the builtin
// workspace variant, not the plain top-level one) — same background-reader
// and process-monitor goroutine shape, generalized from a line-buffer to
// file-backed stdout/stderr capture per the data model in spec §3.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrt/toolrt/internal/isolation"
)

// Status is a ProcessRecord's lifecycle state.
type Status int

const (
	Starting Status = iota
	Running
	Finished
	Killed
	Failed
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Killed:
		return "killed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessRecord is the data-model record from spec §3.
type ProcessRecord struct {
	ID        string
	SessionID string
	Command   string
	Args      []string
	Status    Status
	PID       int
	ExitCode  *int

	OutputDir  string
	StdoutPath string
	StderrPath string
	StdoutSize int64
	StderrSize int64

	StartedAt               time.Time
	FinishedAt              *time.Time
	PollCount               int
	LastPollAt              *time.Time
	ConsecutiveRunningPolls int
	FirstRunningPollAt      *time.Time

	mu sync.Mutex
}

// snapshot returns a value copy of the record's public fields, safe to hand
// to a caller without holding the registry lock.
func (p *ProcessRecord) snapshot() ProcessRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p
	cp.mu = sync.Mutex{}
	return cp
}

// Registry owns every process spawned by workspace execution tools.
type Registry struct {
	isolationMgr  *isolation.Manager
	pollThreshold int

	mu      sync.RWMutex
	records map[string]*ProcessRecord
	cancels map[string]context.CancelFunc
}

// NewRegistry constructs a Registry. pollThreshold is the
// consecutive_running_polls count at which poll_process starts appending
// backoff guidance (spec §4.5); there is no built-in default, matching the
// runtime's own silence on the matter (config.PollThreshold()). Pass 0 to
// disable guidance entirely.
func NewRegistry(isolationMgr *isolation.Manager, pollThreshold int) *Registry {
	return &Registry{
		isolationMgr:  isolationMgr,
		pollThreshold: pollThreshold,
		records:       make(map[string]*ProcessRecord),
		cancels:       make(map[string]context.CancelFunc),
	}
}

// SpawnOptions describes one async execution request.
type SpawnOptions struct {
	SessionID    string
	WorkspaceDir string
	Command      string
	Args         []string
	Env          map[string]string
	Level        isolation.Level
}

// Spawn starts a child process asynchronously per the five-step spawn path
// in spec §4.5 and returns its process id immediately; the caller polls for
// completion via Poll.
func (r *Registry) Spawn(opts SpawnOptions) (string, error) {
	id := uuid.NewString()
	outputDir := filepath.Join(opts.WorkspaceDir, "processes", id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create process output dir: %w", err)
	}

	record := &ProcessRecord{
		ID:         id,
		SessionID:  opts.SessionID,
		Command:    opts.Command,
		Args:       opts.Args,
		Status:     Starting,
		OutputDir:  outputDir,
		StdoutPath: filepath.Join(outputDir, "stdout.log"),
		StderrPath: filepath.Join(outputDir, "stderr.log"),
		StartedAt:  time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.records[id] = record
	r.cancels[id] = cancel
	r.mu.Unlock()

	cmd, err := r.isolationMgr.Build(isolation.Config{
		SessionID:    opts.SessionID,
		WorkspaceDir: opts.WorkspaceDir,
		Command:      opts.Command,
		Args:         opts.Args,
		EnvVars:      opts.Env,
		Level:        opts.Level,
	})
	if err != nil {
		cancel()
		r.removeLocked(id)
		return "", fmt.Errorf("build isolated command: %w", err)
	}

	stdoutFile, err := os.Create(record.StdoutPath)
	if err != nil {
		cancel()
		r.removeLocked(id)
		return "", fmt.Errorf("create stdout file: %w", err)
	}
	stderrFile, err := os.Create(record.StderrPath)
	if err != nil {
		stdoutFile.Close()
		cancel()
		r.removeLocked(id)
		return "", fmt.Errorf("create stderr file: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		cancel()
		r.removeLocked(id)
		return "", err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		cancel()
		r.removeLocked(id)
		return "", err
	}

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		cancel()
		r.removeLocked(id)
		return "", fmt.Errorf("start process: %w", err)
	}

	record.mu.Lock()
	record.Status = Running
	record.PID = cmd.Process.Pid
	record.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go r.streamToFile(&wg, record, stdoutPipe, stdoutFile, false)
	go r.streamToFile(&wg, record, stderrPipe, stderrFile, true)

	go r.waitForExit(ctx, cmd, record, &wg)

	return id, nil
}

// streamToFile copies a pipe line-by-line into its backing file, updating
// the record's size counters, mirroring spawn_output_readers's per-stream
// goroutine pattern.
func (r *Registry) streamToFile(wg *sync.WaitGroup, record *ProcessRecord, pipe io.ReadCloser, f *os.File, isStderr bool) {
	defer wg.Done()
	defer f.Close()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		n, err := f.WriteString(line)
		if err != nil {
			return
		}
		record.mu.Lock()
		if isStderr {
			record.StderrSize += int64(n)
		} else {
			record.StdoutSize += int64(n)
		}
		record.mu.Unlock()
	}
}

// waitForExit waits for the child to exit or the cancellation token to
// fire, killing the child in the latter case, then finalizes the record.
func (r *Registry) waitForExit(ctx context.Context, cmd *exec.Cmd, record *ProcessRecord, wg *sync.WaitGroup) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		wg.Wait()
		record.mu.Lock()
		now := time.Now()
		record.FinishedAt = &now
		code := cmd.ProcessState.ExitCode()
		record.ExitCode = &code
		if err == nil {
			record.Status = Finished
		} else if _, ok := err.(*exec.ExitError); ok {
			record.Status = Finished
		} else {
			record.Status = Failed
		}
		record.mu.Unlock()
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = killProcess(cmd.Process)
		}
		<-done
		wg.Wait()
		record.mu.Lock()
		now := time.Now()
		record.FinishedAt = &now
		record.Status = Killed
		code := -1
		record.ExitCode = &code
		record.mu.Unlock()
	}
}

func (r *Registry) removeLocked(id string) {
	r.mu.Lock()
	delete(r.records, id)
	delete(r.cancels, id)
	r.mu.Unlock()
}

// PollResult is the response shape for poll_process, including an optional
// backoff guidance string.
type PollResult struct {
	Record   ProcessRecord
	Guidance string
}

// Poll validates the record belongs to currentSessionID, updates polling
// bookkeeping, and returns the current snapshot plus backoff guidance when
// the caller has been polling a long-running process too eagerly.
func (r *Registry) Poll(id, currentSessionID string) (PollResult, error) {
	r.mu.RLock()
	record, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return PollResult{}, ErrProcessNotFound
	}

	// Validate session ownership under a read-level check first, per the
	// phased-locking rule in spec §4.5, then mutate with the record's own
	// lock (the registry's RWMutex only protects the records map itself).
	if record.snapshot().SessionID != currentSessionID {
		return PollResult{}, ErrWrongSession
	}

	record.mu.Lock()
	now := time.Now()
	record.PollCount++
	record.LastPollAt = &now

	if record.Status == Running {
		record.ConsecutiveRunningPolls++
		if record.FirstRunningPollAt == nil {
			record.FirstRunningPollAt = &now
		}
	} else {
		record.ConsecutiveRunningPolls = 0
		record.FirstRunningPollAt = nil
	}

	var guidance string
	if record.Status == Running && r.pollThreshold > 0 && record.ConsecutiveRunningPolls >= r.pollThreshold {
		guidance = fmt.Sprintf(
			"process %s has been running across %d consecutive polls; back off at least 10s between polls",
			id, record.ConsecutiveRunningPolls,
		)
	}

	cp := *record
	cp.mu = sync.Mutex{}
	record.mu.Unlock()

	return PollResult{Record: cp, Guidance: guidance}, nil
}

// ErrProcessNotFound and ErrWrongSession are returned by registry
// operations that reference an unknown or foreign process id.
var (
	ErrProcessNotFound = fmt.Errorf("process not found")
	ErrWrongSession    = fmt.Errorf("process belongs to a different session")
)

// Get returns a snapshot of a record.
func (r *Registry) Get(id string) (ProcessRecord, bool) {
	r.mu.RLock()
	record, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return ProcessRecord{}, false
	}
	return record.snapshot(), true
}

// List returns snapshots of every record belonging to sessionID (or every
// record if sessionID is empty).
func (r *Registry) List(sessionID string) []ProcessRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProcessRecord, 0, len(r.records))
	for _, record := range r.records {
		if sessionID == "" || record.SessionID == sessionID {
			out = append(out, record.snapshot())
		}
	}
	return out
}

// TailLines returns the last n lines of path, capped at 100.
func TailLines(path string, n int) ([]string, error) {
	if n > 100 {
		n = 100
	}
	lines, err := readAllLines(path)
	if err != nil {
		return nil, err
	}
	if n >= len(lines) {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

// HeadLines returns the first n lines of path, capped at 100.
func HeadLines(path string, n int) ([]string, error) {
	if n > 100 {
		n = 100
	}
	lines, err := readAllLines(path)
	if err != nil {
		return nil, err
	}
	if n >= len(lines) {
		return lines, nil
	}
	return lines[:n], nil
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// OnSessionEnd fires the cancellation token for every record belonging to
// sessionID, force-terminates any still Running, and deletes the record and
// its output directory.
func (r *Registry) OnSessionEnd(sessionID string) {
	r.mu.Lock()
	var ids []string
	for id, record := range r.records {
		if record.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.terminateAndRemove(id)
	}
}

func (r *Registry) terminateAndRemove(id string) {
	r.mu.Lock()
	record, ok := r.records[id]
	cancel, hasCancel := r.cancels[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if hasCancel {
		cancel()
	}
	outputDir := record.snapshot().OutputDir
	_ = os.RemoveAll(outputDir)
	r.removeLocked(id)
}

// Sweep removes every finished record older than maxAge, run by an hourly
// ticker started by the daemon's retention sweeper.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.RLock()
	var toRemove []string
	for id, record := range r.records {
		snap := record.snapshot()
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range toRemove {
		r.terminateAndRemove(id)
	}
	return len(toRemove)
}

// RunRetentionSweeper blocks, running Sweep every period until ctx is
// canceled. Intended to be started once as a background goroutine by the
// daemon entrypoint.
func (r *Registry) RunRetentionSweeper(ctx context.Context, period, maxAge time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxAge)
		}
	}
}
