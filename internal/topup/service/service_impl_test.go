package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubescribe/tubescribe/internal/clock"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	"github.com/tubescribe/tubescribe/internal/topup/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (domain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.TopupCredit{}, &ledgerdomain.TopupBalance{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)),
	})
	return svc, node
}

func TestApply_CreditsBalance(t *testing.T) {
	svc, node := newService(t)
	userID := node.Generate()

	resp, err := svc.Apply(context.Background(), domain.ApplyRequest{
		UserID:            userID,
		ExternalPaymentID: "pay_123",
		Minutes:           60,
		AmountCents:       999,
	})
	require.NoError(t, err)

	assert.False(t, resp.AlreadyProcessed)
	assert.Equal(t, 60, resp.NewBalance)
}

func TestApply_ReplayedPaymentCreditsOnce(t *testing.T) {
	svc, node := newService(t)
	userID := node.Generate()

	req := domain.ApplyRequest{
		UserID:            userID,
		ExternalPaymentID: "pay_retry",
		Minutes:           30,
		AmountCents:       499,
	}

	first, err := svc.Apply(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.AlreadyProcessed)
	require.Equal(t, 30, first.NewBalance)

	second, err := svc.Apply(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, 30, second.NewBalance)

	balance, err := svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 30, balance)
}

func TestApply_AccumulatesAcrossPayments(t *testing.T) {
	svc, node := newService(t)
	userID := node.Generate()

	for i, payment := range []string{"pay_a", "pay_b", "pay_c"} {
		resp, err := svc.Apply(context.Background(), domain.ApplyRequest{
			UserID:            userID,
			ExternalPaymentID: payment,
			Minutes:           10,
			AmountCents:       199,
		})
		require.NoError(t, err)
		assert.Equal(t, (i+1)*10, resp.NewBalance)
	}
}

func TestApply_Validation(t *testing.T) {
	svc, node := newService(t)
	userID := node.Generate()

	_, err := svc.Apply(context.Background(), domain.ApplyRequest{
		ExternalPaymentID: "pay_x", Minutes: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = svc.Apply(context.Background(), domain.ApplyRequest{
		UserID: userID, Minutes: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPayment)

	_, err = svc.Apply(context.Background(), domain.ApplyRequest{
		UserID: userID, ExternalPaymentID: "pay_x", Minutes: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMinutes)
}

func TestBalance_ZeroWithoutRow(t *testing.T) {
	svc, node := newService(t)

	balance, err := svc.Balance(context.Background(), node.Generate())
	require.NoError(t, err)
	assert.Zero(t, balance)
}
