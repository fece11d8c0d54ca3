package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/db"
)

func TestAppendAndLoadForBook(t *testing.T) {
	ctx := context.Background()
	j := New(db.NewTestClient(t))

	opened, err := j.Append(ctx, Entry{BookID: 1, UserID: 7, Type: LoanOpened, Payload: map[string]int64{"loan_id": 11}})
	require.NoError(t, err)
	_, err = j.Append(ctx, Entry{BookID: 2, UserID: 8, Type: LoanOpened})
	require.NoError(t, err)
	closed, err := j.Append(ctx, Entry{BookID: 1, UserID: 7, Type: LoanClosed, Payload: map[string]int{"score": 9}})
	require.NoError(t, err)

	events, err := j.LoadForBook(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, opened.ID, events[0].ID)
	assert.Equal(t, LoanOpened, events[0].Type)
	assert.JSONEq(t, `{"loan_id":11}`, string(events[0].Payload))

	assert.Equal(t, closed.ID, events[1].ID)
	assert.Equal(t, LoanClosed, events[1].Type)
	assert.Equal(t, int64(7), events[1].UserID)
	assert.JSONEq(t, `{"score":9}`, string(events[1].Payload))
}

func TestAppendWithoutPayloadStoresEmptyObject(t *testing.T) {
	ctx := context.Background()
	j := New(db.NewTestClient(t))

	_, err := j.Append(ctx, Entry{BookID: 3, UserID: 1, Type: ReservationCompensated})
	require.NoError(t, err)

	events, err := j.LoadForBook(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{}`, string(events[0].Payload))
}

func TestAppendRejectsEmptyType(t *testing.T) {
	j := New(db.NewTestClient(t))

	_, err := j.Append(context.Background(), Entry{BookID: 1, UserID: 1})

	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestLoadForBookWithoutEvents(t *testing.T) {
	j := New(db.NewTestClient(t))

	events, err := j.LoadForBook(context.Background(), 42)

	require.NoError(t, err)
	assert.Empty(t, events)
}
