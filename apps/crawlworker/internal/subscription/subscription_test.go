package subscription

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/crawlmesh/apps/crawlworker/internal/models"
	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

type stubGraphClient struct {
	createdResource string
	createID        string
	createErr       error
	patchErr        error
	deleteErr       error
	patchCalls      int
	deleteCalls     int
}

func (s *stubGraphClient) CreateSubscription(ctx context.Context, token, resource string, expiration time.Time) (string, error) {
	s.createdResource = resource
	if s.createErr != nil {
		return "", s.createErr
	}
	if s.createID == "" {
		return "graph-sub-new", nil
	}
	return s.createID, nil
}

func (s *stubGraphClient) PatchSubscription(ctx context.Context, token, graphSubscriptionID string, expiration time.Time) error {
	s.patchCalls++
	return s.patchErr
}

func (s *stubGraphClient) DeleteSubscription(ctx context.Context, token, graphSubscriptionID string) error {
	s.deleteCalls++
	return s.deleteErr
}

func newTestManager(t *testing.T, graph GraphClient) (*Manager, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "postgres")
	uow := database.NewUnitOfWork(sqlxDB, observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
	cfg := DefaultConfig()
	cfg.NotificationWebhookURL = "https://crawlworker.example/webhooks/graph"
	mgr := New(sqlxDB, uow, graph, cfg, observability.NewNoopLogger())
	return mgr, mock, func() { db.Close() }
}

func TestBuildResourceOneDrive(t *testing.T) {
	resource, kind := buildResource("user-1", "site-1", true)
	require.Equal(t, "/drives/user-1/root", resource)
	require.Equal(t, models.ResourceOneDrive, kind)
}

func TestBuildResourceSharePoint(t *testing.T) {
	resource, kind := buildResource("drive-1", "site-1", false)
	require.Equal(t, "/sites/site-1/drives/drive-1/root", resource)
	require.Equal(t, models.ResourceSharePoint, kind)
}

func TestEnsureSubscriptionNoWebhookConfiguredReturnsNilNil(t *testing.T) {
	mgr, mock, cleanup := newTestManager(t, &stubGraphClient{})
	defer cleanup()
	mgr.cfg.NotificationWebhookURL = ""

	sub, err := mgr.EnsureSubscription(context.Background(), uuid.New(), uuid.New(), "u1", "s1", "token", true)
	require.NoError(t, err)
	require.Nil(t, sub)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSubscriptionCreatesWhenMissing(t *testing.T) {
	graph := &stubGraphClient{}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	mock.ExpectQuery(`SELECT \* FROM crawlworker.subscriptions WHERE tenant_id = \$1 AND website_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "website_id", "graph_subscription_id", "resource",
			"resource_kind", "expiration_date_time", "ref_count", "created_at", "updated_at",
		}))
	mock.ExpectExec(`INSERT INTO crawlworker.subscriptions`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sub, err := mgr.EnsureSubscription(context.Background(), uuid.New(), uuid.New(), "u1", "s1", "token", true)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "graph-sub-new", sub.GraphSubscriptionID)
	require.Equal(t, "/drives/u1/root", graph.createdResource)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSubscriptionReturnsExistingWhenValid(t *testing.T) {
	graph := &stubGraphClient{}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	subID := uuid.New()
	tenantID := uuid.New()
	websiteID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "website_id", "graph_subscription_id", "resource",
		"resource_kind", "expiration_date_time", "ref_count", "created_at", "updated_at",
	}).AddRow(subID, tenantID, websiteID, "graph-sub-1", "/drives/u1/root",
		"onedrive", time.Now().Add(time.Hour), 1, time.Now(), time.Now())

	mock.ExpectQuery(`SELECT \* FROM crawlworker.subscriptions WHERE tenant_id = \$1 AND website_id = \$2`).
		WillReturnRows(rows)

	sub, err := mgr.EnsureSubscription(context.Background(), tenantID, websiteID, "u1", "s1", "token", true)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "graph-sub-1", sub.GraphSubscriptionID)
	require.Equal(t, 0, graph.deleteCalls, "valid subscription must not trigger recreate")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewSucceeds(t *testing.T) {
	graph := &stubGraphClient{}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	mock.ExpectExec(`UPDATE crawlworker.subscriptions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := &models.Subscription{ID: uuid.New(), GraphSubscriptionID: "graph-sub-1"}
	err := mgr.Renew(context.Background(), sub, "token", "u1", "s1", true)
	require.NoError(t, err)
	require.Equal(t, 1, graph.patchCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewFallsBackToRecreateOn404(t *testing.T) {
	graph := &stubGraphClient{patchErr: ErrNotFound}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	mock.ExpectExec(`UPDATE crawlworker.subscriptions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := &models.Subscription{ID: uuid.New(), GraphSubscriptionID: "graph-sub-1"}
	err := mgr.Renew(context.Background(), sub, "token", "u1", "s1", true)
	require.NoError(t, err)
	require.Equal(t, 1, graph.deleteCalls, "404 on patch must fall through to recreate's delete+create")
	require.Equal(t, "graph-sub-new", sub.GraphSubscriptionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIfUnusedDeletesWhenRefCountReachesZero(t *testing.T) {
	graph := &stubGraphClient{}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	subID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE crawlworker.subscriptions SET ref_count = ref_count - 1`).
		WithArgs(subID).
		WillReturnRows(sqlmock.NewRows([]string{"ref_count", "graph_subscription_id"}).AddRow(0, "graph-sub-1"))
	mock.ExpectExec(`DELETE FROM crawlworker.subscriptions WHERE id = \$1`).
		WithArgs(subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := mgr.DeleteIfUnused(context.Background(), subID, "token")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Eventually(t, func() bool { return graph.deleteCalls == 1 }, time.Second, 10*time.Millisecond)
}

func TestDeleteIfUnusedKeepsRowWhenStillReferenced(t *testing.T) {
	graph := &stubGraphClient{}
	mgr, mock, cleanup := newTestManager(t, graph)
	defer cleanup()

	subID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE crawlworker.subscriptions SET ref_count = ref_count - 1`).
		WithArgs(subID).
		WillReturnRows(sqlmock.NewRows([]string{"ref_count", "graph_subscription_id"}).AddRow(2, "graph-sub-1"))
	mock.ExpectCommit()

	err := mgr.DeleteIfUnused(context.Background(), subID, "token")
	require.NoError(t, err)
	require.Equal(t, 0, graph.deleteCalls, "must not touch the remote subscription while still referenced")
	require.NoError(t, mock.ExpectationsWereMet())
}
