package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

func TestApplyBulk_PartialFailureIsPerItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, f.seedPending(t, 1000).ID)
	}
	// Позиция 2 уже отменена: ее approve обязан провалиться, не трогая остальных
	_, err := f.svc.Cancel(ctx, ids[2], "cbso-1", "duplicate request")
	require.NoError(t, err)

	results, err := f.svc.ApplyBulk(ctx, ids, BulkApprove, "ts-1", "Verified in one sitting", "")
	require.NoError(t, err)
	require.Len(t, results, 5)

	// Порядок результатов совпадает с порядком входных ID
	for i, r := range results {
		assert.Equal(t, ids[i], r.RequestID)
	}

	applied := 0
	for i, r := range results {
		if i == 2 {
			assert.Equal(t, domain.BulkFailed, r.Outcome)
			require.NotNil(t, r.Reason)
			assert.Contains(t, *r.Reason, "finalized")
			continue
		}
		assert.Equal(t, domain.BulkApplied, r.Outcome, "position %d", i)
		applied++
	}
	assert.Equal(t, 4, applied)

	// Успешные позиции действительно перешли
	for i, id := range ids {
		stored, err := f.repo.GetByID(ctx, id)
		require.NoError(t, err)
		if i == 2 {
			assert.Equal(t, domain.StatusCancelled, stored.Status)
		} else {
			assert.Equal(t, domain.StatusInReview, stored.Status)
		}
	}
}

func TestApplyBulk_DuplicateIDsRejectedUpFront(t *testing.T) {
	f := newFixture(t)
	req := f.seedPending(t, 1000)

	_, err := f.svc.ApplyBulk(context.Background(),
		[]string{req.ID, req.ID}, BulkApprove, "ts-1", "Verified", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	// Заявка не тронута: отказ произошел до начала обработки
	stored, err := f.repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestApplyBulk_DelegateRequiresTarget(t *testing.T) {
	f := newFixture(t)
	req := f.seedPending(t, 1000)

	_, err := f.svc.ApplyBulk(context.Background(),
		[]string{req.ID}, BulkDelegate, "ts-1", "Reassigning", "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestApplyBulk_UnknownAction(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ApplyBulk(context.Background(),
		[]string{"any"}, BulkAction("archive"), "ts-1", "comment", "")
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestApplyBulk_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	results, err := f.svc.ApplyBulk(context.Background(), nil, BulkApprove, "ts-1", "comment", "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestApplyBulk_RejectBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := []string{f.seedPending(t, 1000).ID, f.seedPending(t, 2000).ID}
	results, err := f.svc.ApplyBulk(ctx, ids, BulkReject, "ts-1", "Paperwork incomplete on all", "")
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, domain.BulkApplied, r.Outcome)
	}
	for _, id := range ids {
		stored, err := f.repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRejected, stored.Status)
	}
}
