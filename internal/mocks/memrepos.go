package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/repository"
)

// MemRepos - потокобезопасные in-memory реализации всех репозиториев.
// Семантика повторяет Postgres-реализации: терминальные сессии неизменяемы,
// переходы статусов ассетов проверяются, журналы append-only.
type MemRepos struct {
	mu sync.Mutex

	Sessions    map[uuid.UUID]*models.Session
	Segments    map[uuid.UUID]*models.Segment
	Assets      map[uuid.UUID]*models.Asset
	Validations []*models.ValidationResult
	CostEntries []*models.CostEntry
	Actions     []*models.HealingAction
	Summaries   map[uuid.UUID]*models.CompositionSummary
}

// NewMemRepos создает пустой набор in-memory репозиториев.
func NewMemRepos() *MemRepos {
	return &MemRepos{
		Sessions:  make(map[uuid.UUID]*models.Session),
		Segments:  make(map[uuid.UUID]*models.Segment),
		Assets:    make(map[uuid.UUID]*models.Asset),
		Summaries: make(map[uuid.UUID]*models.CompositionSummary),
	}
}

// --- SessionRepository ---

type memSessionRepo struct{ r *MemRepos }

func (r *MemRepos) SessionRepo() repository.SessionRepository { return &memSessionRepo{r} }

func (m *memSessionRepo) Create(ctx context.Context, session *models.Session) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	copied := *session
	m.r.Sessions[session.ID] = &copied
	return nil
}

func (m *memSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memSessionRepo) UpdateStage(ctx context.Context, id uuid.UUID, stage models.Stage, status models.SessionStatus) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if s.Status.IsTerminal() {
		return models.ErrSessionTerminal
	}
	s.CurrentStage = stage
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessionRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorText string) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if s.Status.IsTerminal() {
		return models.ErrSessionTerminal
	}
	s.Status = models.SessionStatusFailed
	s.CurrentStage = models.StageFailed
	s.ErrorText = errorText
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessionRepo) MarkCompleted(ctx context.Context, id uuid.UUID, finalAssetID uuid.UUID) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if s.Status.IsTerminal() {
		return models.ErrSessionTerminal
	}
	s.Status = models.SessionStatusCompleted
	s.CurrentStage = models.StageDone
	s.FinalAssetID = &finalAssetID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSessionRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if s.Status.IsTerminal() {
		return models.ErrSessionTerminal
	}
	s.Status = models.SessionStatusCancelled
	s.CurrentStage = models.StageCancelled
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// --- SegmentRepository ---

type memSegmentRepo struct{ r *MemRepos }

func (r *MemRepos) SegmentRepo() repository.SegmentRepository { return &memSegmentRepo{r} }

func (m *memSegmentRepo) CreateBatch(ctx context.Context, segments []*models.Segment) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, seg := range segments {
		seg.CreatedAt = time.Now().UTC()
		copied := *seg
		m.r.Segments[seg.ID] = &copied
	}
	return nil
}

func (m *memSegmentRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Segment, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.Segment
	for _, seg := range m.r.Segments {
		if seg.SessionID == sessionID {
			copied := *seg
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- AssetRepository ---

type memAssetRepo struct{ r *MemRepos }

func (r *MemRepos) AssetRepo() repository.AssetRepository { return &memAssetRepo{r} }

func (m *memAssetRepo) Create(ctx context.Context, asset *models.Asset) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	copied := *asset
	m.r.Assets[asset.ID] = &copied
	return nil
}

func (m *memAssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	a, ok := m.r.Assets[id]
	if !ok {
		return nil, models.ErrAssetNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memAssetRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Asset, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.Asset
	for _, a := range m.r.Assets {
		if a.SessionID == sessionID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memAssetRepo) ListBySegment(ctx context.Context, segmentID uuid.UUID, kind models.AssetKind) ([]*models.Asset, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.Asset
	for _, a := range m.r.Assets {
		if a.SegmentID != nil && *a.SegmentID == segmentID && a.Kind == kind {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memAssetRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.AssetStatus) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	a, ok := m.r.Assets[id]
	if !ok {
		return models.ErrAssetNotFound
	}
	if a.Status != from || !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrIllegalStatusTransition, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memAssetRepo) Supersede(ctx context.Context, oldID, newID uuid.UUID) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	a, ok := m.r.Assets[oldID]
	if !ok {
		return models.ErrAssetNotFound
	}
	if a.Status != models.AssetStatusRejected {
		return fmt.Errorf("%w: %s -> substituted", repository.ErrIllegalStatusTransition, a.Status)
	}
	a.Status = models.AssetStatusSubstituted
	a.SupersededBy = &newID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// --- ValidationRepository ---

type memValidationRepo struct{ r *MemRepos }

func (r *MemRepos) ValidationRepo() repository.ValidationRepository { return &memValidationRepo{r} }

func (m *memValidationRepo) CreateBatch(ctx context.Context, results []*models.ValidationResult) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		res.CreatedAt = time.Now().UTC()
		copied := *res
		m.r.Validations = append(m.r.Validations, &copied)
	}
	return nil
}

func (m *memValidationRepo) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*models.ValidationResult, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.ValidationResult
	for _, res := range m.r.Validations {
		if res.AssetID == assetID {
			copied := *res
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- CostRepository ---

type memCostRepo struct{ r *MemRepos }

func (r *MemRepos) CostRepo() repository.CostRepository { return &memCostRepo{r} }

func (m *memCostRepo) Append(ctx context.Context, entry *models.CostEntry) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	copied := *entry
	m.r.CostEntries = append(m.r.CostEntries, &copied)
	return nil
}

func (m *memCostRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CostEntry, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.CostEntry
	for _, e := range m.r.CostEntries {
		if e.SessionID == sessionID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- CompositionLogRepository ---

type memCompLogRepo struct{ r *MemRepos }

func (r *MemRepos) CompLogRepo() repository.CompositionLogRepository { return &memCompLogRepo{r} }

func (m *memCompLogRepo) AppendAction(ctx context.Context, action *models.HealingAction) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	action.CreatedAt = time.Now().UTC()
	copied := *action
	m.r.Actions = append(m.r.Actions, &copied)
	return nil
}

func (m *memCompLogRepo) ListActions(ctx context.Context, sessionID uuid.UUID) ([]*models.HealingAction, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	var out []*models.HealingAction
	for _, a := range m.r.Actions {
		if a.SessionID == sessionID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memCompLogRepo) SaveSummary(ctx context.Context, summary *models.CompositionSummary) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	copied := *summary
	m.r.Summaries[summary.SessionID] = &copied
	return nil
}

func (m *memCompLogRepo) GetSummary(ctx context.Context, sessionID uuid.UUID) (*models.CompositionSummary, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.Summaries[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}
