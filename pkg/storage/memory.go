package storage

import (
	"context"
	"fmt"
	"sync"

	"corecu_go/models"

	"github.com/google/uuid"
)

// MemoryRunStore хранит запуски в памяти процесса. Подходит для одного
// экземпляра сервиса и для тестов.
type MemoryRunStore struct {
	locks *keyLocks

	mu   sync.Mutex
	runs map[string]*models.RunRecord
	// order — порядок создания, чтобы LatestRun различал одинаковые created_at
	order []string
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{locks: newKeyLocks(), runs: make(map[string]*models.RunRecord)}
}

func (s *MemoryRunStore) Lock(ctx context.Context, actorID int64, scopeKey string) (func(), error) {
	return s.locks.lock(ctx, lockKey(actorID, scopeKey))
}

func (s *MemoryRunStore) LatestRun(ctx context.Context, actorID int64, scopeKey string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.RunRecord
	for _, id := range s.order {
		r := s.runs[id]
		if r.ActorID != actorID || r.ScopeKey != scopeKey {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryRunStore) CreateRun(ctx context.Context, run models.RunRecord) (*models.RunRecord, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return nil, fmt.Errorf("запуск %s уже существует", run.ID)
	}
	stored := run
	s.runs[run.ID] = &stored
	s.order = append(s.order, run.ID)
	return &run, nil
}

func (s *MemoryRunStore) FinishRun(ctx context.Context, id string, status models.RunStatus, errText *string) error {
	if !status.Terminal() {
		return fmt.Errorf("статус %q не терминальный", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok || r.Status != models.RunRunning {
		return ErrRunNotRunning
	}
	r.Status = status
	if errText != nil {
		t := *errText
		r.Error = &t
	}
	return nil
}

// Runs возвращает копии всех запусков в порядке создания.
func (s *MemoryRunStore) Runs() []models.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.runs[id])
	}
	return out
}
