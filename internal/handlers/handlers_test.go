package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/database"
	"github.com/sjperalta/fintera-invoicing/internal/exportgate"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/services"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	router *gin.Engine
	repos  *repository.Repositories
	tokens map[string]string
}

var testUsers = []models.User{
	{Email: "admin@fintera.app", FullName: "Ada Admin", Role: models.RoleAdmin},
	{Email: "ingest@fintera.app", FullName: "Ingestion Bot", Role: models.RoleIngestion},
	{Email: "controller@fintera.app", FullName: "Carla Controller", Role: models.RoleController},
	{Email: "cfo@fintera.app", FullName: "Frank CFO", Role: models.RoleCFO},
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		PushTimeout:          time.Second,
		PushMaxAttempts:      3,
		PushRetryBaseBackoff: time.Minute,
		PushRetryMaxBackoff:  time.Hour,
		PushRetryConcurrency: 1,
	}
	repos := repository.NewRepositories(db)
	svcs := services.NewServices(repos, worker, store, cfg, policy.Default(), exportgate.NewSandbox(), signer)

	router := gin.New()
	RegisterRoutes(router, NewHandlers(svcs), cfg.JWTSecret)
	env := &apiEnv{router: router, repos: repos, tokens: map[string]string{}}

	for _, u := range testUsers {
		u := u
		u.EncryptedPassword, err = services.HashPassword("password123")
		require.NoError(t, err)
		require.NoError(t, repos.User.Create(context.Background(), &u))

		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": u.Email, "password": "password123"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var login services.LoginResult
		decode(t, w, &login)
		env.tokens[u.Role] = login.Token
	}
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func contractBody(confidence float64) gin.H {
	return gin.H{"contract": gin.H{
		"reference":     "MSA-001",
		"customer_name": "Acme Corp",
		"currency":      "USD",
		"clauses": []gin.H{{
			"clause_id":             "c1",
			"basis":                 models.BasisTimeAndMaterials,
			"description":           "Consulting",
			"trigger":               gin.H{"unit_type": "hour"},
			"unit_price":            "200",
			"effective_from":        "2024-01-01",
			"extraction_confidence": confidence,
		}},
	}}
}

// deriveInvoice ingests a contract and one 10 hour event and derives an invoice
func (e *apiEnv) deriveInvoice(t *testing.T, confidence float64) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/contracts", models.RoleIngestion, contractBody(confidence))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Contract models.Contract `json:"contract"`
	}
	decode(t, w, &created)

	w = e.do(t, http.MethodPost, "/api/v1/contracts/"+created.Contract.ID+"/work_events", models.RoleIngestion, gin.H{
		"events": []gin.H{{"event_id": "E1", "date": "2024-03-04", "description": "Backend development", "units": 10, "unit_type": "hour"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ingested services.IngestResult
	decode(t, w, &ingested)

	w = e.do(t, http.MethodPost, "/api/v1/invoices", models.RoleController, gin.H{
		"contract_id":    created.Contract.ID,
		"work_event_ids": []string{ingested.Events[0].ID},
		"invoice_date":   "2024-03-31T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var derived struct {
		Invoice map[string]any `json:"invoice"`
	}
	decode(t, w, &derived)
	return derived.Invoice
}

func lineIDs(inv map[string]any) []string {
	var ids []string
	for _, l := range inv["lines"].([]any) {
		ids = append(ids, l.(map[string]any)["id"].(string))
	}
	return ids
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fintera-invoicing")
}

func TestAuth_RejectsMissingTokenAndBadCredentials(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/invoices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "controller@fintera.app", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsers_AdminOnly(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/users", models.RoleController, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/users", models.RoleAdmin, gin.H{"user": gin.H{
		"email": "new.reviewer@fintera.app", "password": "password123", "FullName": "New Reviewer", "role": "Controller",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "New Reviewer")

	w = env.do(t, http.MethodPost, "/api/v1/users", models.RoleAdmin, gin.H{
		"email": "other@fintera.app", "password": "password123", "full_name": "Other", "role": "auditor",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Contains(t, body.Fields, "role")

	w = env.do(t, http.MethodGet, "/api/v1/users?role=controller", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Users []models.UserResponse `json:"users"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Users, 2)
}

func TestInvoiceLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.deriveInvoice(t, 0.95)
	id := inv["id"].(string)
	assert.Equal(t, models.InvoiceStatusPendingReview, inv["status"])
	assert.Equal(t, "2000.00", inv["total"])

	// Approval before review names the unreviewed lines
	approve := gin.H{"approver_name": "Carla Controller", "approver_email": "controller@fintera.app", "confirmed": true}
	w := env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/approve", models.RoleController, approve)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "line_ids")

	for _, lineID := range lineIDs(inv) {
		w = env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/lines/"+lineID+"/review", models.RoleController, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/approve", models.RoleController, approve)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/invoices/"+id+"/approval/verify", models.RoleCFO, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var check services.ApprovalVerification
	decode(t, w, &check)
	assert.True(t, check.Matches)

	w = env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/push", models.RoleIngestion, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/push", models.RoleController, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pushed services.PushResult
	decode(t, w, &pushed)
	assert.NotEmpty(t, pushed.ExternalRef)

	w = env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/push", models.RoleController, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TRANSITION")

	w = env.do(t, http.MethodGet, "/api/v1/audit/"+id, models.RoleCFO, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trail services.AuditTrail
	decode(t, w, &trail)
	assert.True(t, trail.Verification.Valid)
	var actions []string
	for _, e := range trail.Entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{models.ActionDerive, models.ActionLineReview, models.ActionApprove, models.ActionPush}, actions)

	w = env.do(t, http.MethodGet, "/api/v1/audit/"+id+"/export?format=csv&to=2999-01-01", models.RoleCFO, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Bundle-Hash"), "sha256:"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = env.do(t, http.MethodGet, "/api/v1/audit/"+id+"/export?format=docx", models.RoleCFO, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/audit/"+id+"/export?from=yesterday", models.RoleCFO, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRejectAndRederive(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.deriveInvoice(t, 0.95)
	id := inv["id"].(string)

	w := env.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/rederive", models.RoleController, gin.H{"reason": "clauses amended"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rederived struct {
		Invoice map[string]any `json:"invoice"`
	}
	decode(t, w, &rederived)
	newID := rederived.Invoice["id"].(string)
	assert.Equal(t, id, rederived.Invoice["supersedes_id"])

	w = env.do(t, http.MethodPost, "/api/v1/invoices/"+newID+"/reject", models.RoleCFO, gin.H{"reason": "customer disputes hours"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/invoices?status="+models.InvoiceStatusRejected, models.RoleCFO, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Invoices []map[string]any `json:"invoices"`
	}
	decode(t, w, &list)
	// The superseded version is rejected as well
	require.Len(t, list.Invoices, 2)
	var ids []any
	for _, inv := range list.Invoices {
		ids = append(ids, inv["id"])
	}
	assert.ElementsMatch(t, []any{id, newID}, ids)

	w = env.do(t, http.MethodGet, "/api/v1/invoices/missing", models.RoleCFO, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExceptionReview(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.deriveInvoice(t, 0.72)
	id := inv["id"].(string)
	assert.Equal(t, models.InvoiceStatusException, inv["status"])

	w := env.do(t, http.MethodGet, "/api/v1/exceptions?mine=1", models.RoleController, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var queue struct {
		Exceptions []models.Exception `json:"exceptions"`
	}
	decode(t, w, &queue)
	require.Len(t, queue.Exceptions, 1)
	exc := queue.Exceptions[0]
	assert.Equal(t, models.ExceptionKindLowConfidence, exc.Kind)

	w = env.do(t, http.MethodPost, "/api/v1/exceptions/"+exc.ID+"/comments", models.RoleController, gin.H{"body": "checked the timesheet"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/exceptions/"+exc.ID+"/resolve", models.RoleController, gin.H{"note": " "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/exceptions/"+exc.ID+"/resolve", models.RoleController, gin.H{"note": "hours match the timesheet"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved struct {
		Invoice map[string]any `json:"invoice"`
	}
	decode(t, w, &resolved)
	assert.Equal(t, models.InvoiceStatusPendingReview, resolved.Invoice["status"])

	w = env.do(t, http.MethodPost, "/api/v1/exceptions/"+exc.ID+"/resolve", models.RoleController, gin.H{"note": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/invoices/"+id+"/exceptions", models.RoleController, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.ExceptionStatusResolved)
}

func TestWorkEvents_InvalidBatchAndCSVImport(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/contracts", models.RoleIngestion, contractBody(0.9))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Contract models.Contract `json:"contract"`
	}
	decode(t, w, &created)
	base := "/api/v1/contracts/" + created.Contract.ID + "/work_events"

	w = env.do(t, http.MethodPost, base, models.RoleIngestion, gin.H{"events": []gin.H{
		{"event_id": "E1", "date": "2024-03-04", "units": "8", "unit_type": "hour"},
		{"event_id": "E2", "date": "not-a-date", "units": "x", "unit_type": "hour"},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var verr struct {
		Rows []services.RowError `json:"rows"`
	}
	decode(t, w, &verr)
	require.NotEmpty(t, verr.Rows)
	for _, r := range verr.Rows {
		assert.Equal(t, 2, r.Row)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "march.csv")
	require.NoError(t, err)
	fmt.Fprint(part, "event_id,date,description,units,unit_type,amount,external_ref\nE1,2024-03-04,Backend development,10,hour,2000.00,JIRA-1\n")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, base+"/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.tokens[models.RoleIngestion])
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	w = env.do(t, http.MethodGet, base+"?unit_type=HOUR", models.RoleController, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		WorkEvents []models.WorkEvent `json:"work_events"`
		Pagination map[string]any     `json:"pagination"`
	}
	decode(t, w, &list)
	assert.Len(t, list.WorkEvents, 1)
	assert.EqualValues(t, 1, list.Pagination["total"])
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broken := int64(3)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Message: "bad", Fields: map[string]string{"x": "required"}}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"transition", &services.InvalidTransitionError{InvoiceID: "i", From: "draft", Event: "push"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"no terms", &services.NoBillingTermsError{ContractID: "c"}, http.StatusUnprocessableEntity, "NO_BILLING_TERMS"},
		{"push failed", &services.PushError{InvoiceID: "i", Attempt: 1, Err: errors.New("503")}, http.StatusBadGateway, "PUSH_FAILED"},
		{"push timeout", &services.PushError{InvoiceID: "i", Attempt: 2, Timeout: true}, http.StatusGatewayTimeout, "PUSH_TIMEOUT"},
		{"integrity", &services.IntegrityError{LineageID: "l", Verification: ledger.Verification{BrokenAt: &broken}}, http.StatusLocked, "INTEGRITY_FAILURE"},
		{"not found", fmt.Errorf("invoice: %w", services.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"concurrent", services.ErrConcurrentModification, http.StatusConflict, "CONFLICT"},
		{"already resolved", services.ErrAlreadyResolved, http.StatusConflict, "CONFLICT"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestParseTimeParam(t *testing.T) {
	from, err := parseTimeParam("2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *from)

	to, err := parseTimeParam("2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 59, 59, 999999000, time.UTC), *to)

	ts, err := parseTimeParam("2024-03-01T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, 8, ts.Hour())

	empty, err := parseTimeParam("", false)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
