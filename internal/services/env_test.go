package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/database"
	"github.com/sjperalta/fintera-invoicing/internal/exportgate"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	ingestor   = models.UserActor("u-ingest", "Ingestion Bot", "ingest@fintera.app", models.RoleIngestion)
	controller = models.UserActor("u-ctrl", "Carla Controller", "controller@fintera.app", models.RoleController)
	cfo        = models.UserActor("u-cfo", "Frank CFO", "cfo@fintera.app", models.RoleCFO)
)

type fakeGate struct {
	mu    sync.Mutex
	keys  []string
	err   error
	delay time.Duration
	after func()
}

func (g *fakeGate) Push(ctx context.Context, key string, p *exportgate.InvoicePayload) (*exportgate.Receipt, error) {
	g.mu.Lock()
	g.keys = append(g.keys, key)
	err, delay, after := g.err, g.delay, g.after
	g.mu.Unlock()
	if after != nil {
		defer after()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &exportgate.Receipt{ExternalRef: "ERP-" + p.InvoiceID[:8], Status: "accepted", ReceivedAt: time.Now()}, nil
}

func (g *fakeGate) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

func (g *fakeGate) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

type testEnv struct {
	db    *gorm.DB
	repos *repository.Repositories
	svc   *Services
	gate  *fakeGate
	store *storage.LocalStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer, err := ledger.NewHMACSigner("test-signing-key")
	require.NoError(t, err)

	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)

	cfg := &config.Config{
		JWTSecret:            "test-secret",
		JWTExpirationHours:   1,
		PushTimeout:          200 * time.Millisecond,
		PushMaxAttempts:      3,
		PushRetryBaseBackoff: time.Minute,
		PushRetryMaxBackoff:  time.Hour,
		PushRetryConcurrency: 2,
	}
	gate := &fakeGate{}
	repos := repository.NewRepositories(db)
	svc := NewServices(repos, worker, store, cfg, policy.Default(), gate, signer)
	return &testEnv{db: db, repos: repos, svc: svc, gate: gate, store: store}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func hourlyClause(confidence float64) ClauseInput {
	return ClauseInput{
		ExternalID:           "c1",
		Basis:                models.BasisTimeAndMaterials,
		Description:          "Consulting",
		Trigger:              TriggerInput{UnitType: "hour"},
		UnitPrice:            dec("200"),
		EffectiveFrom:        "2024-01-01",
		ExtractionConfidence: confidence,
	}
}

func (e *testEnv) contract(t *testing.T, clauses ...ClauseInput) *models.Contract {
	t.Helper()
	c, err := e.svc.Contract.Ingest(context.Background(), IngestContractRequest{
		Reference:    "MSA-001",
		CustomerName: "Acme Corp",
		Currency:     "usd",
		Clauses:      clauses,
	}, ingestor)
	require.NoError(t, err)
	return c
}

func hours(id, date, units string) WorkEventInput {
	return WorkEventInput{EventID: id, Date: date, Description: "Backend development", Units: NumberText(units), UnitType: "hour"}
}

func (e *testEnv) events(t *testing.T, contractID string, rows ...WorkEventInput) []string {
	t.Helper()
	res, err := e.svc.WorkEvent.Ingest(context.Background(), contractID, rows, ingestor)
	require.NoError(t, err)
	ids := make([]string, len(res.Events))
	for i, ev := range res.Events {
		ids[i] = ev.ID
	}
	return ids
}

func (e *testEnv) derive(t *testing.T, contractID string, eventIDs []string) *models.Invoice {
	t.Helper()
	inv, err := e.svc.Invoice.Derive(context.Background(), DeriveRequest{
		ContractID:   contractID,
		WorkEventIDs: eventIDs,
		InvoiceDate:  ptrTime(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)),
	}, controller)
	require.NoError(t, err)
	return inv
}

// pendingInvoice derives a clean single-line invoice in pending_review
func (e *testEnv) pendingInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	c := e.contract(t, hourlyClause(0.95))
	ids := e.events(t, c.ID, hours("E1", "2024-03-04", "10"))
	inv := e.derive(t, c.ID, ids)
	require.Equal(t, models.InvoiceStatusPendingReview, inv.Status)
	return inv
}

func (e *testEnv) reviewAll(t *testing.T, inv *models.Invoice, reviewer models.Actor) {
	t.Helper()
	for _, l := range inv.Lines {
		_, err := e.svc.Invoice.ReviewLine(context.Background(), inv.ID, l.ID, reviewer)
		require.NoError(t, err)
	}
}

func approvalRequest(actor models.Actor) ApprovalRequest {
	return ApprovalRequest{ApproverName: actor.Name, ApproverEmail: actor.Email, Note: "looks right", Confirmed: true}
}

func (e *testEnv) approvedInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	inv := e.pendingInvoice(t)
	e.reviewAll(t, inv, controller)
	_, err := e.svc.Approval.Approve(context.Background(), inv.ID, approvalRequest(controller), controller)
	require.NoError(t, err)
	return inv
}

func (e *testEnv) reload(t *testing.T, id string) *models.Invoice {
	t.Helper()
	inv, err := e.repos.Invoice.FindByID(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func (e *testEnv) actions(t *testing.T, lineageID string) []string {
	t.Helper()
	entries, err := e.repos.Audit.ListByLineage(context.Background(), lineageID)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = en.Action
	}
	return out
}

func countAction(actions []string, action string) int {
	n := 0
	for _, a := range actions {
		if a == action {
			n++
		}
	}
	return n
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
