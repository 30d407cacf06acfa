package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	jobservice "github.com/tubescribe/tubescribe/internal/job/service"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	ledgerservice "github.com/tubescribe/tubescribe/internal/ledger/service"
	quotaservice "github.com/tubescribe/tubescribe/internal/quota/service"
	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
	subscriptionservice "github.com/tubescribe/tubescribe/internal/subscription/service"
	topupdomain "github.com/tubescribe/tubescribe/internal/topup/domain"
	topupservice "github.com/tubescribe/tubescribe/internal/topup/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	server *Server
	db     *gorm.DB
	clock  *clock.FakeClock
	genID  *snowflake.Node
	userID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&jobdomain.TranscriptionJob{},
		&ledgerdomain.CreditConsumption{},
		&ledgerdomain.TopupBalance{},
		&topupdomain.TopupCredit{},
	))
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_transcription_jobs_active_subject
		ON transcription_jobs (user_id, youtube_id)
		WHERE status NOT IN ('completed', 'failed', 'cancelled')`).Error)

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	plans := config.NewStaticPlanConfigHolder(config.PlanConfig{
		ProMinutesPerPeriod: 300,
		PeriodDays:          30,
	})

	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{DB: db, Log: log})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake, SubSvc: subSvc, Plans: plans,
	})
	topupSvc := topupservice.NewService(topupservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
	})
	jobSvc := jobservice.NewService(jobservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake, LedgerSvc: ledgerSvc,
	})
	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		Log: log, Clock: fake, SubSvc: subSvc, LedgerSvc: ledgerSvc,
		TopupSvc: topupSvc, JobSvc: jobSvc, Plans: plans,
	})

	engine := NewEngine(prometheus.NewRegistry())
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{HTTPAddr: ":0"},
		Log:             log,
		GenID:           node,
		QuotaSvc:        quotaSvc,
		JobSvc:          jobSvc,
		LedgerSvc:       ledgerSvc,
		TopupSvc:        topupSvc,
		SubscriptionSvc: subSvc,
	})

	userID := node.Generate()
	require.NoError(t, db.Create(&subscriptiondomain.Subscription{
		ID:            node.Generate(),
		UserID:        userID,
		Tier:          subscriptiondomain.TierPro,
		UserCreatedAt: fake.Now().Add(-10 * 24 * time.Hour),
	}).Error)

	return &fixture{server: srv, db: db, clock: fake, genID: node, userID: userID}
}

func (f *fixture) request(t *testing.T, method, path string, body any, asUser bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if asUser {
		req.Header.Set("X-User-Id", f.userID.String())
	}

	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUsageStatsRequiresUser(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/usage", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageStatsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/usage", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[map[string]any](t, rec)
	sub := stats["subscription_minutes"].(map[string]any)
	assert.Equal(t, float64(300), sub["limit"])
	assert.Equal(t, float64(0), sub["used"])
}

func TestCreateJobFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/jobs", gin.H{
		"youtube_id":       "dQw4w9WgXcQ",
		"duration_seconds": 600,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	job := resp["job"].(map[string]any)
	assert.Equal(t, "pending", job["Status"])

	// Same video again while the first job is live.
	rec = f.request(t, http.MethodPost, "/api/jobs", gin.H{
		"youtube_id":       "dQw4w9WgXcQ",
		"duration_seconds": 600,
	}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	conflict := decode[map[string]any](t, rec)
	decision := conflict["decision"].(map[string]any)
	assert.Equal(t, "EXISTING_JOB", decision["reason"])
}

func TestCreateJobRejectedWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Where("user_id = ?", f.userID).
		Delete(&subscriptiondomain.Subscription{}).Error)

	rec := f.request(t, http.MethodPost, "/api/jobs", gin.H{
		"youtube_id":       "dQw4w9WgXcQ",
		"duration_seconds": 600,
	}, true)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	resp := decode[map[string]any](t, rec)
	decision := resp["decision"].(map[string]any)
	assert.Equal(t, "NO_SUBSCRIPTION", decision["reason"])
}

func TestTopupWebhookIdempotent(t *testing.T) {
	f := newFixture(t)

	payload := gin.H{
		"user_id":             f.userID.String(),
		"external_payment_id": "pi_3QXYZ",
		"minutes":             60,
		"amount_cents":        999,
	}

	rec := f.request(t, http.MethodPost, "/webhooks/topup", payload, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	assert.Equal(t, false, first["already_processed"])
	assert.Equal(t, float64(60), first["new_balance"])

	rec = f.request(t, http.MethodPost, "/webhooks/topup", payload, false)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[map[string]any](t, rec)
	assert.Equal(t, true, second["already_processed"])
	assert.Equal(t, float64(60), second["new_balance"])
}

func TestJobOwnershipHidesForeignJobs(t *testing.T) {
	f := newFixture(t)

	otherUser := f.genID.Generate()
	otherJob := &jobdomain.TranscriptionJob{
		ID:               f.genID.Generate(),
		UserID:           otherUser,
		YoutubeID:        "zQw4w9WgXcQ",
		Status:           jobdomain.StatusPending,
		EstimatedMinutes: 5,
		CreatedAt:        f.clock.Now(),
		UpdatedAt:        f.clock.Now(),
	}
	require.NoError(t, f.db.Create(otherJob).Error)

	rec := f.request(t, http.MethodGet, fmt.Sprintf("/api/jobs/%s", otherJob.ID), nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobEndpointRefunds(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/jobs", gin.H{
		"youtube_id":       "dQw4w9WgXcQ",
		"duration_seconds": 600,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]any](t, rec)
	jobID := created["job"].(map[string]any)["ID"]

	rec = f.request(t, http.MethodPost, fmt.Sprintf("/api/jobs/%v/cancel", jobID), nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, http.MethodPost, fmt.Sprintf("/api/jobs/%v/cancel", jobID), nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSharedTranscriptLookup(t *testing.T) {
	f := newFixture(t)

	otherUser := f.genID.Generate()
	completedAt := f.clock.Now()
	done := &jobdomain.TranscriptionJob{
		ID:               f.genID.Generate(),
		UserID:           otherUser,
		YoutubeID:        "dQw4w9WgXcQ",
		Status:           jobdomain.StatusCompleted,
		Progress:         100,
		EstimatedMinutes: 5,
		CompletedAt:      &completedAt,
		CreatedAt:        f.clock.Now(),
		UpdatedAt:        f.clock.Now(),
	}
	require.NoError(t, f.db.Create(done).Error)

	rec := f.request(t, http.MethodGet, "/api/transcripts/dQw4w9WgXcQ", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, done.ID.String(), body["job_id"])
	assert.Equal(t, "dQw4w9WgXcQ", body["youtube_id"])

	rec = f.request(t, http.MethodGet, "/api/transcripts/neverSeenID", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
