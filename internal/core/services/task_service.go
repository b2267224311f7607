package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/metrics"
)

// TaskService is the bounded in-memory registry of submitted tasks. When full,
// the oldest task is evicted; the remote workspace stays authoritative.
type TaskService struct {
	tasks    map[string]*domain.Task
	order    []string
	capacity int
	prefix   string
	now      func() time.Time
	mu       sync.RWMutex
}

func NewTaskService(capacity int, prefix string) *TaskService {
	if capacity <= 0 {
		capacity = 1000
	}
	if prefix == "" {
		prefix = "fl-task"
	}
	return &TaskService{
		tasks:    make(map[string]*domain.Task),
		capacity: capacity,
		prefix:   prefix,
		now:      time.Now,
	}
}

// ==================== Task Management ====================

// CreateTask registers a new task with a timestamp id. Two tasks created in
// the same second get distinct ids through a random suffix.
func (s *TaskService) CreateTask(vmID, address string, mode domain.LaunchMode) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := fmt.Sprintf("%s-%s", s.prefix, now.Format("20060102-150405"))
	if _, exists := s.tasks[id]; exists {
		id = id + "-" + uuid.New().String()[:8]
	}

	task := &domain.Task{
		ID:          id,
		VMID:        vmID,
		Address:     address,
		LaunchMode:  mode,
		Status:      domain.TaskStatusSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.tasks, oldest)
	}
	s.tasks[id] = task
	s.order = append(s.order, id)
	metrics.RegisteredTasks.Set(float64(len(s.tasks)))

	taskCopy := *task
	return &taskCopy
}

// UpdateTask applies fn to the stored task under the write lock.
func (s *TaskService) UpdateTask(id string, fn func(*domain.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	fn(task)
	task.UpdatedAt = s.now()
	return nil
}

func (s *TaskService) FailTask(id string, errStr string) error {
	return s.UpdateTask(id, func(t *domain.Task) {
		t.Status = domain.TaskStatusFailed
		t.Error = errStr
	})
}

func (s *TaskService) GetTask(id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	// Return a copy to avoid race conditions
	taskCopy := *task
	return &taskCopy, nil
}

func (s *TaskService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
