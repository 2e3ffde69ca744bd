package steplog

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Repository for tests and local experiments.
type Memory struct {
	mu        sync.Mutex
	instances map[string]*Instance
	steps     map[string][]Step
	timers    map[string]*Timer
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]*Instance),
		steps:     make(map[string][]Step),
		timers:    make(map[string]*Timer),
	}
}

func (m *Memory) CreateInstance(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.instances[inst.ID]; exists {
		return ErrDuplicateInstance
	}
	cp := *inst
	cp.Status = InstanceRunning
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.instances[inst.ID] = &cp
	return nil
}

func (m *Memory) FinishInstance(_ context.Context, sagaID string, status InstanceStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[sagaID]
	if !ok {
		return ErrNotFound
	}
	inst.Status = status
	inst.Error = errMsg
	inst.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetInstance(_ context.Context, sagaID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[sagaID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (m *Memory) RunningInstances(context.Context) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Instance
	for _, inst := range m.instances {
		if inst.Status == InstanceRunning {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (m *Memory) AppendStep(_ context.Context, step *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *step
	cp.RecordedAt = time.Now()
	m.steps[step.SagaID] = append(m.steps[step.SagaID], cp)
	return nil
}

func (m *Memory) Steps(_ context.Context, sagaID string) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Step, len(m.steps[sagaID]))
	copy(out, m.steps[sagaID])
	return out, nil
}

func (m *Memory) CreateTimer(_ context.Context, timer *Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *timer
	cp.Status = TimerPending
	m.timers[timer.ID] = &cp
	return nil
}

func (m *Memory) CancelTimer(_ context.Context, timerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[timerID]; ok && t.Status == TimerPending {
		t.Status = TimerCancelled
	}
	return nil
}

func (m *Memory) DueTimers(_ context.Context, now time.Time) ([]Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Timer
	for _, t := range m.timers {
		if t.Status == TimerPending && !t.FireAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *Memory) MarkTimerFired(_ context.Context, timerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[timerID]; ok && t.Status == TimerPending {
		t.Status = TimerFired
	}
	return nil
}
