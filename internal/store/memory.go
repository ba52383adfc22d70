package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

type memPool struct {
	tasks []PoolTask
	index map[string]int
	subs  []models.Submission
}

// Memory is an in-process store.
type Memory struct {
	mu           sync.Mutex
	pools        map[string]*memPool
	subPool      map[string]string
	restrictions []models.Restriction
	bonuses      []models.Bonus

	// Fail, when set, is consulted before every call; a non-nil result is
	// returned wrapped in models.ErrRemoteStore.
	Fail func(op string) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pools:   make(map[string]*memPool),
		subPool: make(map[string]string),
	}
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	if err := m.Fail(op); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrRemoteStore, err)
	}
	return nil
}

func (m *Memory) pool(id string) (*memPool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) CreatePool(_ context.Context, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create pool"); err != nil {
		return err
	}
	if _, ok := m.pools[poolID]; !ok {
		m.pools[poolID] = &memPool{index: make(map[string]int)}
	}
	return nil
}

func (m *Memory) AddTasks(_ context.Context, poolID string, tasks []models.Task, overlap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("add tasks"); err != nil {
		return err
	}
	p, err := m.pool(poolID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		id := t.ID()
		if i, ok := p.index[id]; ok {
			p.tasks[i].Overlap = max(p.tasks[i].Overlap, overlap)
			continue
		}
		p.index[id] = len(p.tasks)
		p.tasks = append(p.tasks, PoolTask{Task: models.NewTask(t.Inputs...), Overlap: overlap})
	}
	return nil
}

func (m *Memory) PoolTasks(_ context.Context, poolID string) ([]PoolTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("pool tasks"); err != nil {
		return nil, err
	}
	p, err := m.pool(poolID)
	if err != nil {
		return nil, err
	}
	return append([]PoolTask(nil), p.tasks...), nil
}

func (m *Memory) RaiseTaskOverlap(_ context.Context, poolID, taskID string, overlap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("raise overlap"); err != nil {
		return err
	}
	p, err := m.pool(poolID)
	if err != nil {
		return err
	}
	i, ok := p.index[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	p.tasks[i].Overlap = overlap
	return nil
}

func (m *Memory) AddSubmission(_ context.Context, sub models.Submission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("add submission"); err != nil {
		return "", err
	}
	p, err := m.pool(sub.PoolID)
	if err != nil {
		return "", err
	}
	for _, r := range m.restrictions {
		if restricts(r, sub.WorkerID, sub.PoolID, sub.StartedAt) {
			return "", fmt.Errorf("worker %s: %w", sub.WorkerID, ErrWorkerRestricted)
		}
	}
	if sub.RemoteID == nil {
		sub.RemoteID = models.StringPtr(uuid.New().String())
	}
	if sub.Status == "" {
		sub.Status = models.StatusSubmitted
	}
	sub.Items = append([]models.Item(nil), sub.Items...)
	p.subs = append(p.subs, sub)
	sort.SliceStable(p.subs, func(i, j int) bool {
		return p.subs[i].SubmittedAt.Before(p.subs[j].SubmittedAt)
	})
	m.subPool[*sub.RemoteID] = sub.PoolID
	return *sub.RemoteID, nil
}

func (m *Memory) FetchSubmissions(_ context.Context, poolID string, statuses ...models.SubmissionStatus) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("fetch submissions"); err != nil {
		return nil, err
	}
	p, err := m.pool(poolID)
	if err != nil {
		return nil, err
	}
	var out []models.Submission
	for _, s := range p.subs {
		if hasStatus(s.Status, statuses) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SetSubmissionStatus(_ context.Context, id string, status models.SubmissionStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("set status"); err != nil {
		return err
	}
	poolID, ok := m.subPool[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	p := m.pools[poolID]
	for i := range p.subs {
		if *p.subs[i].RemoteID != id {
			continue
		}
		if p.subs[i].Status != models.StatusSubmitted || !status.Terminal() {
			return fmt.Errorf("%s -> %s: %w", p.subs[i].Status, status, ErrInvalidTransition)
		}
		p.subs[i].Status = status
		return nil
	}
	return fmt.Errorf("submission %s: %w", id, ErrNotFound)
}

func (m *Memory) ApplyWorkerRestriction(_ context.Context, r models.Restriction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("restrict worker"); err != nil {
		return err
	}
	m.restrictions = append(m.restrictions, r)
	return nil
}

func (m *Memory) IssueBonus(_ context.Context, b models.Bonus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("issue bonus"); err != nil {
		return err
	}
	m.bonuses = append(m.bonuses, b)
	return nil
}

func (m *Memory) IsPoolClosed(_ context.Context, poolID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("pool closed"); err != nil {
		return false, err
	}
	p, err := m.pool(poolID)
	if err != nil {
		return false, err
	}
	return poolClosed(p.tasks, p.subs), nil
}

func (m *Memory) Restrictions(context.Context) ([]models.Restriction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Restriction(nil), m.restrictions...), nil
}

func (m *Memory) Bonuses(context.Context) ([]models.Bonus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Bonus(nil), m.bonuses...), nil
}

func (m *Memory) IsRestricted(_ context.Context, workerID, poolID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.restrictions {
		if restricts(r, workerID, poolID, at) {
			return true, nil
		}
	}
	return false, nil
}
