package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
)

// recordingMailer captures outbound emails.
type recordingMailer struct {
	mu         sync.Mutex
	alertTo    [][]string
	schemaTo   [][]string
	sent       chan struct{}
	failAlerts error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: make(chan struct{}, 8)}
}

func (m *recordingMailer) SendThresholdAlert(ctx context.Context, to []string, event *notify.ThresholdEvent) error {
	m.mu.Lock()
	m.alertTo = append(m.alertTo, to)
	m.mu.Unlock()
	m.sent <- struct{}{}
	return m.failAlerts
}

func (m *recordingMailer) SendSchemaChange(ctx context.Context, to []string, event *notify.SchemaChangeEvent) error {
	m.mu.Lock()
	m.schemaTo = append(m.schemaTo, to)
	m.mu.Unlock()
	m.sent <- struct{}{}
	return nil
}

func waitForSend(t *testing.T, mailer *recordingMailer) {
	t.Helper()
	select {
	case <-mailer.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("email was never sent")
	}
}

func TestDispatcher_ThresholdEmailsRecipientsWithAddresses(t *testing.T) {
	mailer := newRecordingMailer()
	d := NewDispatcher(newTestHub(), newMockNotificationRepository(), mailer, zap.NewNop())

	d.DispatchThresholdAlerts(context.Background(), &notify.ThresholdEvent{
		WorkspaceID:   uuid.New(),
		WorkspaceName: "revenue",
		UploadID:      uuid.New(),
		Violations:    []notify.RuleViolation{{Column: "amount", Metric: "mean", Condition: "greater_than", Threshold: 10, Actual: 20}},
		Recipients: []*models.User{
			{ID: uuid.New(), Email: "owner@example.com"},
			{ID: uuid.New()}, // no address, skipped
		},
	})

	waitForSend(t, mailer)
	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.Len(t, mailer.alertTo, 1)
	assert.Equal(t, []string{"owner@example.com"}, mailer.alertTo[0])
}

func TestDispatcher_NilMailerSkipsEmail(t *testing.T) {
	d := NewDispatcher(newTestHub(), newMockNotificationRepository(), nil, zap.NewNop())

	// Must not panic.
	d.DispatchSchemaChange(context.Background(), &notify.SchemaChangeEvent{
		WorkspaceID: uuid.New(),
		UploadID:    uuid.New(),
		Recipients:  []*models.User{{ID: uuid.New(), Email: "owner@example.com"}},
	})
}

func TestDispatcher_NoAddressableRecipientsSkipsEmail(t *testing.T) {
	mailer := newRecordingMailer()
	d := NewDispatcher(newTestHub(), newMockNotificationRepository(), mailer, zap.NewNop())

	d.DispatchSchemaChange(context.Background(), &notify.SchemaChangeEvent{
		WorkspaceID: uuid.New(),
		UploadID:    uuid.New(),
		Recipients:  []*models.User{{ID: uuid.New()}},
	})

	select {
	case <-mailer.sent:
		t.Fatal("email should not have been sent")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchemaChangeMessage(t *testing.T) {
	event := &notify.SchemaChangeEvent{
		WorkspaceName:  "revenue",
		AddedColumns:   []string{"discount"},
		RemovedColumns: []string{"margin"},
		RowCountBefore: 100,
		RowCountAfter:  150,
		RowChangePct:   50,
	}

	msg := schemaChangeMessage(event)
	assert.Contains(t, msg, `Schema change in "revenue"`)
	assert.Contains(t, msg, "added columns: discount")
	assert.Contains(t, msg, "removed columns: margin")
	assert.Contains(t, msg, "from 100 to 150 (+50.0%)")
}

func TestThresholdMessage(t *testing.T) {
	single := &notify.ThresholdEvent{
		WorkspaceName: "revenue",
		Violations:    []notify.RuleViolation{{Column: "amount", Metric: "mean", Condition: "greater_than", Threshold: 100, Actual: 250.5}},
	}
	assert.Equal(t, `Alert in "revenue": mean of "amount" is 250.5 (greater_than 100)`, thresholdMessage(single))

	multi := &notify.ThresholdEvent{
		WorkspaceName: "revenue",
		Violations:    make([]notify.RuleViolation, 3),
	}
	assert.Equal(t, `Alert in "revenue": 3 rules triggered`, thresholdMessage(multi))
}

func TestDispatcher_SchemaChangePersistsInboxRows(t *testing.T) {
	notificationRepo := newMockNotificationRepository()
	d := NewDispatcher(newTestHub(), notificationRepo, nil, zap.NewNop())

	workspaceID, uploadID := uuid.New(), uuid.New()
	owner := &models.User{ID: uuid.New(), Email: "owner@example.com"}
	member := &models.User{ID: uuid.New()}
	event := &notify.SchemaChangeEvent{
		WorkspaceID:   workspaceID,
		WorkspaceName: "revenue",
		UploadID:      uploadID,
		AddedColumns:  []string{"discount"},
		Recipients:    []*models.User{owner, member},
	}

	d.DispatchSchemaChange(context.Background(), event)

	require.Len(t, notificationRepo.notifications, 2)
	for _, n := range notificationRepo.notifications {
		require.NotNil(t, n.WorkspaceID)
		assert.Equal(t, workspaceID, *n.WorkspaceID)
		assert.Contains(t, n.Message, "discount")
		require.NotNil(t, n.IdempotencyKey)
		assert.Equal(t, models.SchemaChangeFingerprint(uploadID, workspaceID), *n.IdempotencyKey)
	}

	// Re-dispatching the same upload's event must not duplicate the inbox.
	d.DispatchSchemaChange(context.Background(), event)
	assert.Len(t, notificationRepo.notifications, 2)
}
