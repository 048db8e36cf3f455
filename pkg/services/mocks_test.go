package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
	"github.com/datapulse-io/datapulse-engine/pkg/source"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// newTestHub builds a hub with no redis backing; events stay local.
func newTestHub() *ws.Hub {
	return ws.NewHub(nil, zap.NewNop())
}

// mockWorkspaceRepository is an in-memory WorkspaceRepository that records
// polling state mutations.
type mockWorkspaceRepository struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]*models.Workspace
	members    map[uuid.UUID][]uuid.UUID

	disabledReason  map[uuid.UUID]string
	successRecorded map[uuid.UUID]int
}

func newMockWorkspaceRepository() *mockWorkspaceRepository {
	return &mockWorkspaceRepository{
		workspaces:      make(map[uuid.UUID]*models.Workspace),
		members:         make(map[uuid.UUID][]uuid.UUID),
		disabledReason:  make(map[uuid.UUID]string),
		successRecorded: make(map[uuid.UUID]int),
	}
}

func (m *mockWorkspaceRepository) add(workspace *models.Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if workspace.ID == uuid.Nil {
		workspace.ID = uuid.New()
	}
	m.workspaces[workspace.ID] = workspace
}

func (m *mockWorkspaceRepository) Create(ctx context.Context, workspace *models.Workspace) error {
	workspace.CreatedAt = time.Now().UTC()
	workspace.UpdatedAt = workspace.CreatedAt
	m.add(workspace)
	return nil
}

func (m *mockWorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workspaces[id], nil
}

func (m *mockWorkspaceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Workspace
	for _, w := range m.workspaces {
		if w.OwnerID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockWorkspaceRepository) ListPollable(ctx context.Context) ([]*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Workspace
	for _, w := range m.workspaces {
		if w.IsPollingActive && w.Pollable() && w.DeletedAt == nil {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockWorkspaceRepository) Update(ctx context.Context, workspace *models.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[workspace.ID] = workspace
	return nil
}

func (m *mockWorkspaceRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[id]; ok {
		now := time.Now().UTC()
		w.DeletedAt = &now
	}
	return nil
}

func (m *mockWorkspaceRepository) RecordPollSuccess(ctx context.Context, id uuid.UUID, polledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successRecorded[id]++
	if w, ok := m.workspaces[id]; ok {
		w.LastPolledAt = &polledAt
		w.FailureCount = 0
		w.LastFailureReason = nil
	}
	return nil
}

func (m *mockWorkspaceRepository) RecordSoftFailure(ctx context.Context, id uuid.UUID, reason string, polledAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workspaces[id]
	w.FailureCount++
	w.LastFailureReason = &reason
	w.LastPolledAt = &polledAt
	return w.FailureCount, nil
}

func (m *mockWorkspaceRepository) DisablePolling(ctx context.Context, id uuid.UUID, reason string, disabledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabledReason[id] = reason
	if w, ok := m.workspaces[id]; ok {
		w.IsPollingActive = false
		w.FailureCount = 0
		w.LastFailureReason = &reason
		w.AutoDisabledAt = &disabledAt
	}
	return nil
}

func (m *mockWorkspaceRepository) EnablePolling(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[id]; ok {
		w.IsPollingActive = true
		w.FailureCount = 0
		w.LastFailureReason = nil
		w.AutoDisabledAt = nil
	}
	return nil
}

func (m *mockWorkspaceRepository) ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	if w, ok := m.workspaces[workspaceID]; ok {
		ids = append(ids, w.OwnerID)
	}
	ids = append(ids, m.members[workspaceID]...)
	return ids, nil
}

func (m *mockWorkspaceRepository) AddMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[workspaceID] = append(m.members[workspaceID], userID)
	return nil
}

func (m *mockWorkspaceRepository) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.members[workspaceID][:0]
	for _, id := range m.members[workspaceID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	m.members[workspaceID] = kept
	return nil
}

// mockUploadRepository is an in-memory UploadRepository.
type mockUploadRepository struct {
	mu       sync.Mutex
	uploads  []*models.Upload
	saved    []*models.Upload
	createErr error
}

func newMockUploadRepository() *mockUploadRepository {
	return &mockUploadRepository{}
}

func (m *mockUploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	upload.ID = uuid.New()
	upload.UploadedAt = time.Now().UTC()
	m.uploads = append(m.uploads, upload)
	return nil
}

func (m *mockUploadRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.uploads {
		if u.ID == id && u.WorkspaceID == workspaceID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUploadRepository) List(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*models.Upload, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Upload
	for _, u := range m.uploads {
		if u.WorkspaceID == workspaceID {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

func (m *mockUploadRepository) CountByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, u := range m.uploads {
		if u.WorkspaceID == workspaceID {
			count++
		}
	}
	return count, nil
}

func (m *mockUploadRepository) PreviousAnalyzed(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Upload
	for _, u := range m.uploads {
		if u.WorkspaceID != upload.WorkspaceID || u.ID == upload.ID {
			continue
		}
		if u.UploadType != upload.UploadType || u.AnalyzedAt == nil {
			continue
		}
		if !u.UploadedAt.Before(upload.UploadedAt) {
			continue
		}
		if best == nil || u.UploadedAt.After(best.UploadedAt) {
			best = u
		}
	}
	return best, nil
}

func (m *mockUploadRepository) SaveAnalysis(ctx context.Context, upload *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	upload.AnalyzedAt = &now
	m.saved = append(m.saved, upload)
	return nil
}

func (m *mockUploadRepository) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.uploads {
		if u.ID == id && u.WorkspaceID == workspaceID {
			m.uploads = append(m.uploads[:i], m.uploads[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

// mockAlertRuleRepository is an in-memory AlertRuleRepository.
type mockAlertRuleRepository struct {
	mu    sync.Mutex
	rules []*models.AlertRule
}

func newMockAlertRuleRepository() *mockAlertRuleRepository {
	return &mockAlertRuleRepository{}
}

func (m *mockAlertRuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = uuid.New()
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	m.rules = append(m.rules, rule)
	return nil
}

func (m *mockAlertRuleRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id && r.WorkspaceID == workspaceID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockAlertRuleRepository) List(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AlertRule
	for _, r := range m.rules {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAlertRuleRepository) ListActive(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AlertRule
	for _, r := range m.rules {
		if r.WorkspaceID == workspaceID && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAlertRuleRepository) SetActive(ctx context.Context, workspaceID, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id && r.WorkspaceID == workspaceID {
			r.IsActive = active
		}
	}
	return nil
}

func (m *mockAlertRuleRepository) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	m.rules = kept
	return nil
}

// mockNotificationRepository is an in-memory NotificationRepository with
// idempotency key enforcement.
type mockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func newMockNotificationRepository() *mockNotificationRepository {
	return &mockNotificationRepository{}
}

func (m *mockNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification.ID = uuid.New()
	notification.CreatedAt = time.Now().UTC()
	m.notifications = append(m.notifications, notification)
	return nil
}

func (m *mockNotificationRepository) CreateBatch(ctx context.Context, notifications []*models.Notification) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, n := range notifications {
		if n.IdempotencyKey != nil && m.existsLocked(n.UserID, *n.IdempotencyKey) {
			continue
		}
		n.ID = uuid.New()
		n.CreatedAt = time.Now().UTC()
		m.notifications = append(m.notifications, n)
		inserted++
	}
	return inserted, nil
}

func (m *mockNotificationRepository) existsLocked(userID uuid.UUID, key string) bool {
	for _, n := range m.notifications {
		if n.UserID == userID && n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (m *mockNotificationRepository) ExistsByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.WorkspaceID != nil && *n.WorkspaceID == workspaceID &&
			n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockNotificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *mockNotificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
		}
	}
	return nil
}

func (m *mockNotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.UserID == userID {
			n.IsRead = true
		}
	}
	return nil
}

// mockUserRepository is an in-memory UserRepository.
type mockUserRepository struct {
	users map[uuid.UUID]*models.User
}

func newMockUserRepository(users ...*models.User) *mockUserRepository {
	m := &mockUserRepository{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// mockDispatcher records dispatched events.
type mockDispatcher struct {
	mu            sync.Mutex
	schemaChanges []*notify.SchemaChangeEvent
	thresholds    []*notify.ThresholdEvent
}

func (m *mockDispatcher) DispatchSchemaChange(ctx context.Context, event *notify.SchemaChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaChanges = append(m.schemaChanges, event)
}

func (m *mockDispatcher) DispatchThresholdAlerts(ctx context.Context, event *notify.ThresholdEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = append(m.thresholds, event)
}

// mockSummarizer returns a canned narrative or error.
type mockSummarizer struct {
	narrative string
	err       error
	calls     int
}

func (m *mockSummarizer) SummarizeSchemaChange(ctx context.Context, workspaceName string, added, removed []string) (string, error) {
	m.calls++
	return m.narrative, m.err
}

// fakeExecutor satisfies source.Executor with canned results.
type fakeExecutor struct {
	result   *source.QueryResult
	err      error
	closed   bool
	gotQuery string
}

func (f *fakeExecutor) Execute(ctx context.Context, query string, limit int) (*source.QueryResult, error) {
	f.gotQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) Close() {
	f.closed = true
}
