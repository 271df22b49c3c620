package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icssync/internal/models"
)

func meeting(uid, title string) *models.Event {
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	return &models.Event{UID: uid, Summary: title, Start: &start, End: &end}
}

func TestReconcileEndToEnd(t *testing.T) {
	ctx := context.Background()
	src := []*models.Event{meeting("A", "Meeting")}

	// Destination empty: the event gets created.
	ops, err := Reconcile(ctx, src, nil, Options{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Kind)
	assert.Same(t, src[0], ops[0].Event)

	// Destination now holds A unchanged: nothing to do.
	dst := []*models.Event{meeting("A", "Meeting")}
	ops, err = Reconcile(ctx, src, dst, Options{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpSkip, ops[0].Kind)
	assert.Equal(t, "A", ops[0].UID)
	assert.Equal(t, models.ReasonNoChange, ops[0].Reason)
	assert.False(t, ops[0].Ambiguous)

	// Title changed upstream: update with only the title merged.
	src = []*models.Event{meeting("A", "Meeting (moved)")}
	ops, err = Reconcile(ctx, src, dst, Options{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpUpdate, ops[0].Kind)
	assert.Equal(t, []string{"summary"}, ops[0].Fields)

	want := meeting("A", "Meeting (moved)")
	assert.Equal(t, want, ops[0].Event)
	assert.Equal(t, "Meeting", dst[0].Summary, "snapshot must stay untouched")
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := []*models.Event{meeting("A", "Meeting (moved)"), meeting("B", "Lunch")}
	dst := []*models.Event{meeting("A", "Meeting")}

	ops, err := Reconcile(ctx, src, dst, Options{})
	require.NoError(t, err)

	// Apply the first run's writes to the destination the way the store would.
	var next []*models.Event
	for _, op := range ops {
		next = append(next, op.Event)
	}

	ops, err = Reconcile(ctx, src, next, Options{})
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, models.OpSkip, op.Kind, op.UID)
	}
}

func TestReconcileAmbiguousUID(t *testing.T) {
	src := []*models.Event{meeting("A", "Meeting (moved)"), meeting("B", "Lunch")}
	dst := []*models.Event{meeting("A", "Meeting"), meeting("A", "Meeting"), meeting("A", "Other")}

	ops, err := Reconcile(context.Background(), src, dst, Options{Workers: 1})
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.Equal(t, models.OpSkip, ops[0].Kind)
	assert.True(t, ops[0].Ambiguous)
	assert.Equal(t, "ambiguous: 3 duplicate destination entries", ops[0].Reason)
	assert.Empty(t, ops[0].Fields)

	assert.Equal(t, models.OpCreate, ops[1].Kind)
	assert.Equal(t, "B", ops[1].UID)
}

func TestReconcileKeepsSourceOrder(t *testing.T) {
	var src, dst []*models.Event
	for i := 0; i < 200; i++ {
		uid := fmt.Sprintf("uid-%03d", i)
		src = append(src, meeting(uid, "Source"))
		if i%2 == 0 {
			dst = append(dst, meeting(uid, "Destination"))
		}
	}

	ops, err := Reconcile(context.Background(), src, dst, Options{Workers: 8})
	require.NoError(t, err)
	require.Len(t, ops, len(src))
	for i, op := range ops {
		assert.Equal(t, src[i].UID, op.UID)
		if i%2 == 0 {
			assert.Equal(t, models.OpUpdate, op.Kind)
		} else {
			assert.Equal(t, models.OpCreate, op.Kind)
		}
	}
}

func TestReconcileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Reconcile(ctx, []*models.Event{meeting("A", "Meeting")}, nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
