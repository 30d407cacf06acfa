package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubescribe/tubescribe/internal/billingperiod"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/job/domain"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	ledgerservice "github.com/tubescribe/tubescribe/internal/ledger/service"
	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type subscriptionStub struct {
	sub       *subscriptiondomain.Subscription
	unlimited bool
}

func (s *subscriptionStub) GetByUserID(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.sub, nil
}

func (s *subscriptionStub) IsUnlimited(ctx context.Context, userID snowflake.ID) (bool, error) {
	return s.unlimited, nil
}

type fixture struct {
	svc    domain.Service
	ledger ledgerdomain.Service
	db     *gorm.DB
	clock  *clock.FakeClock
	genID  *snowflake.Node
	userID snowflake.ID
	sub    *subscriptiondomain.Subscription
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.TranscriptionJob{},
		&ledgerdomain.CreditConsumption{},
		&ledgerdomain.TopupBalance{},
	))

	// AutoMigrate cannot express the partial index guarding the one-live-job
	// rule; create it the way the production migration does.
	require.NoError(t, db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_transcription_jobs_active_subject
		ON transcription_jobs (user_id, youtube_id)
		WHERE status NOT IN ('completed', 'failed', 'cancelled')`).Error)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	stub := &subscriptionStub{
		sub: &subscriptiondomain.Subscription{
			ID:            node.Generate(),
			UserID:        userID,
			Tier:          subscriptiondomain.TierPro,
			UserCreatedAt: fake.Now().Add(-10 * 24 * time.Hour),
		},
	}

	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		SubSvc: stub,
		Plans: config.NewStaticPlanConfigHolder(config.PlanConfig{
			ProMinutesPerPeriod: limit,
			PeriodDays:          30,
		}),
	})

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		LedgerSvc: ledgerSvc,
	})

	return &fixture{svc: svc, ledger: ledgerSvc, db: db, clock: fake, genID: node, userID: userID, sub: stub.sub}
}

func (f *fixture) usedMinutes(t *testing.T) int {
	t.Helper()
	period := billingperiod.Resolve(*f.sub, f.clock.Now())
	used, err := f.ledger.UsedMinutes(context.Background(), f.userID, period)
	require.NoError(t, err)
	return used
}

func (f *fixture) create(t *testing.T, youtubeID string, seconds int) *domain.TranscriptionJob {
	t.Helper()
	job, err := f.svc.Create(context.Background(), domain.CreateRequest{
		UserID:          f.userID,
		YoutubeID:       youtubeID,
		DurationSeconds: seconds,
	})
	require.NoError(t, err)
	return job
}

func statusPtr(s domain.Status) *domain.Status { return &s }
func intPtr(n int) *int                        { return &n }

func TestCreateRoundsDurationUp(t *testing.T) {
	f := newFixture(t, 300)

	job := f.create(t, "dQw4w9WgXcQ", 61)

	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 2, job.EstimatedMinutes)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.StartedAt)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{YoutubeID: "abc", DurationSeconds: 60})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.Create(ctx, domain.CreateRequest{UserID: f.userID, YoutubeID: "  ", DurationSeconds: 60})
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)

	_, err = f.svc.Create(ctx, domain.CreateRequest{UserID: f.userID, YoutubeID: "abc", DurationSeconds: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
}

func TestDuplicateActiveJobRejected(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	f.create(t, "dQw4w9WgXcQ", 120)

	_, err := f.svc.Create(ctx, domain.CreateRequest{
		UserID:          f.userID,
		YoutubeID:       "dQw4w9WgXcQ",
		DurationSeconds: 120,
	})
	assert.ErrorIs(t, err, domain.ErrExistingJob)
}

func TestNewJobAllowedAfterTerminal(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	first := f.create(t, "dQw4w9WgXcQ", 120)
	_, err := f.svc.Cancel(ctx, first.ID)
	require.NoError(t, err)

	second := f.create(t, "dQw4w9WgXcQ", 120)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAdvanceStampsStartedAtOnce(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 120)

	updated, err := f.svc.Advance(ctx, domain.AdvanceRequest{
		JobID:  job.ID,
		Status: statusPtr(domain.StatusDownloading),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.StartedAt)
	startedAt := *updated.StartedAt

	f.clock.Advance(5 * time.Minute)
	updated, err = f.svc.Advance(ctx, domain.AdvanceRequest{
		JobID:  job.ID,
		Status: statusPtr(domain.StatusTranscribing),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.StartedAt)
	assert.True(t, updated.StartedAt.Equal(startedAt))
}

func TestAdvanceRejectsBackwardTransition(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 120)
	_, err := f.svc.Advance(ctx, domain.AdvanceRequest{
		JobID:  job.ID,
		Status: statusPtr(domain.StatusTranscribing),
	})
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, domain.AdvanceRequest{
		JobID:  job.ID,
		Status: statusPtr(domain.StatusDownloading),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvanceDropsStaleProgress(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 120)
	_, err := f.svc.Advance(ctx, domain.AdvanceRequest{JobID: job.ID, Progress: intPtr(60)})
	require.NoError(t, err)

	current, err := f.svc.Advance(ctx, domain.AdvanceRequest{JobID: job.ID, Progress: intPtr(40)})
	require.NoError(t, err)
	assert.Equal(t, 60, current.Progress)
}

func TestAdvanceTerminalJobRejected(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 120)
	_, err := f.svc.Fail(ctx, job.ID, "download error")
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, domain.AdvanceRequest{JobID: job.ID, Progress: intPtr(50)})
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestCompleteConsumesEstimatedMinutes(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 10*60)
	done, err := f.svc.Complete(ctx, domain.CompleteRequest{JobID: job.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.CompletedAt)

	assert.Equal(t, 10, f.usedMinutes(t))
}

func TestCompletePrefersMeasuredDuration(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 10*60)
	_, err := f.svc.Complete(ctx, domain.CompleteRequest{
		JobID:                   job.ID,
		MeasuredDurationSeconds: intPtr(7*60 + 1),
	})
	require.NoError(t, err)

	assert.Equal(t, 8, f.usedMinutes(t))
}

func TestCompleteWithoutCreditsFailsJob(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 10*60)
	_, err := f.svc.Complete(ctx, domain.CompleteRequest{JobID: job.ID})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)

	current, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, current.Status)
	require.NotNil(t, current.ErrorMessage)
	assert.Equal(t, "insufficient_credits", *current.ErrorMessage)

	assert.Equal(t, 0, f.usedMinutes(t))
}

func TestCancelRefundsConsumption(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 10*60)
	_, err := f.ledger.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:  f.userID,
		JobID:   job.ID,
		Minutes: 10,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ErrorMessage)
	assert.Equal(t, "Cancelled by user", *cancelled.ErrorMessage)

	assert.Equal(t, 0, f.usedMinutes(t))
}

func TestCancelCompletedJobRejected(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	job := f.create(t, "dQw4w9WgXcQ", 60)
	_, err := f.svc.Complete(ctx, domain.CompleteRequest{JobID: job.ID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	assert.Equal(t, 1, f.usedMinutes(t))
}

func TestActiveForSubject(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	active, err := f.svc.ActiveForSubject(ctx, f.userID, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, active)

	job := f.create(t, "dQw4w9WgXcQ", 60)
	active, err = f.svc.ActiveForSubject(ctx, f.userID, "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	_, err = f.svc.Complete(ctx, domain.CompleteRequest{JobID: job.ID})
	require.NoError(t, err)

	active, err = f.svc.ActiveForSubject(ctx, f.userID, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, active)

	completed, err := f.svc.CompletedForSubject(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, job.ID, completed.ID)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t, 300)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.create(t, videoID(i), 60)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.List(ctx, domain.ListRequest{UserID: f.userID, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 3)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	rest, err := f.svc.List(ctx, domain.ListRequest{
		UserID:    f.userID,
		PageSize:  3,
		PageToken: page.NextPageToken,
	})
	require.NoError(t, err)
	assert.Len(t, rest.Jobs, 2)
	assert.False(t, rest.HasMore)

	// Newest first, no overlap between pages.
	assert.True(t, page.Jobs[0].CreatedAt.After(page.Jobs[2].CreatedAt))
	for _, a := range page.Jobs {
		for _, b := range rest.Jobs {
			assert.NotEqual(t, a.ID, b.ID)
		}
	}
}

func videoID(i int) string {
	return string(rune('a'+i)) + "Qw4w9WgXcQ"
}
