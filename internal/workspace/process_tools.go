package workspace

import (
	"github.com/agentrt/toolrt/internal/process"
)

// ProcessStatusFilter selects which processes list_processes returns.
type ProcessStatusFilter string

const (
	StatusFilterAll      ProcessStatusFilter = "all"
	StatusFilterRunning  ProcessStatusFilter = "running"
	StatusFilterFinished ProcessStatusFilter = "finished"
)

// PollProcess returns the live record for processID under currentSessionID,
// optionally with the last tailLines lines of stdout.
func PollProcess(registry *process.Registry, processID, currentSessionID string, tailLines *int) (process.PollResult, []string, error) {
	result, err := registry.Poll(processID, currentSessionID)
	if err != nil {
		return process.PollResult{}, nil, err
	}

	var tail []string
	if tailLines != nil && *tailLines > 0 {
		tail, _ = process.TailLines(result.Record.StdoutPath, *tailLines)
	}
	return result, tail, nil
}

// ReadProcessOutput returns either the head or tail of a process's
// captured stdout or stderr, capped at 100 lines.
func ReadProcessOutput(registry *process.Registry, processID, currentSessionID, stream, mode string, lines int) ([]string, error) {
	rec, ok := registry.Get(processID)
	if !ok {
		return nil, process.ErrProcessNotFound
	}
	if rec.SessionID != currentSessionID {
		return nil, process.ErrWrongSession
	}

	path := rec.StdoutPath
	if stream == "stderr" {
		path = rec.StderrPath
	}

	if mode == "head" {
		return process.HeadLines(path, lines)
	}
	return process.TailLines(path, lines)
}

// ListProcesses returns every record for currentSessionID matching filter.
func ListProcesses(registry *process.Registry, currentSessionID string, filter ProcessStatusFilter) []process.ProcessRecord {
	all := registry.List(currentSessionID)
	if filter == "" || filter == StatusFilterAll {
		return all
	}

	var out []process.ProcessRecord
	for _, rec := range all {
		isRunning := rec.Status == process.Running || rec.Status == process.Starting
		if filter == StatusFilterRunning && isRunning {
			out = append(out, rec)
		}
		if filter == StatusFilterFinished && !isRunning {
			out = append(out, rec)
		}
	}
	return out
}
