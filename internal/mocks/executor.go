package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
)

// MockExecutor is a scripted exec.Executor.
//
// Handler decides what a command "does": it may write files (to play the part of
// rga or dot) and returns the captured output. For Start, the handler runs when
// the process is waited on, so tests can observe launch/wait ordering in Events.
type MockExecutor struct {
	// Handler is called for every command. nil means exit 0 with no output.
	Handler func(argv []string) (exec.Result, error)

	// StartErr, when set, fails Start for commands whose argv contains the key.
	StartErr map[string]error

	mu     sync.Mutex
	calls  [][]string
	events []string
}

// NewMockExecutor returns a MockExecutor with handler.
func NewMockExecutor(handler func(argv []string) (exec.Result, error)) *MockExecutor {
	return &MockExecutor{Handler: handler}
}

func (m *MockExecutor) Name() string {
	return "mock"
}

func (m *MockExecutor) Run(_ context.Context, cmd []string, _ *exec.Opts) (exec.Result, error) {
	if len(cmd) == 0 {
		return exec.Result{ExitCode: -1}, exec.ErrEmptyCommand
	}
	m.record(cmd, "run")
	return m.handle(cmd)
}

func (m *MockExecutor) Start(_ context.Context, cmd []string, _ *exec.Opts) (exec.Process, error) {
	if len(cmd) == 0 {
		return nil, exec.ErrEmptyCommand
	}
	joined := strings.Join(cmd, " ")
	for key, err := range m.StartErr {
		if strings.Contains(joined, key) {
			return nil, err
		}
	}
	m.record(cmd, "start")
	return &mockProcess{owner: m, argv: append([]string(nil), cmd...)}, nil
}

// Calls returns every argv launched so far.
func (m *MockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many launched commands contain every fragment.
func (m *MockExecutor) CallCount(fragments ...string) int {
	count := 0
	for _, argv := range m.Calls() {
		joined := strings.Join(argv, " ")
		match := true
		for _, f := range fragments {
			if !strings.Contains(joined, f) {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}

// Events returns "run|start|wait <argv>" lines in the order they happened.
func (m *MockExecutor) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *MockExecutor) record(cmd []string, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind != "wait" {
		m.calls = append(m.calls, append([]string(nil), cmd...))
	}
	m.events = append(m.events, kind+" "+strings.Join(cmd, " "))
}

func (m *MockExecutor) handle(cmd []string) (exec.Result, error) {
	if m.Handler == nil {
		return exec.Result{Argv: cmd, ExecutorUsed: m.Name()}, nil
	}
	res, err := m.Handler(cmd)
	res.Argv = cmd
	res.ExecutorUsed = m.Name()
	return res, err
}

type mockProcess struct {
	owner  *MockExecutor
	argv   []string
	once   sync.Once
	result exec.Result
	err    error
}

func (p *mockProcess) Argv() []string {
	return p.argv
}

func (p *mockProcess) Wait() (exec.Result, error) {
	p.once.Do(func() {
		p.owner.record(p.argv, "wait")
		p.result, p.err = p.owner.handle(p.argv)
	})
	return p.result, p.err
}
