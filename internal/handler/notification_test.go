package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

var completedNotification = mvola.Notification{
	TransactionStatus:    "completed",
	ServerCorrelationID:  "abc123",
	TransactionReference: "636042511",
	DebitParty:           []mvola.KeyValue{{Key: "msisdn", Value: "0343500003"}},
}

func reportStatus(status mvola.Status, objectRef string) func(context.Context, *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
	return func(ctx context.Context, h *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
		next := *h
		next.Status = status
		next.ObjectReference = objectRef
		return &next, nil
	}
}

func newTestForwarder(client StatusConfirmer, out OutcomeSender) *NotificationForwarder {
	return NewNotificationForwarder(client, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestForwarderForwardsConfirmedCompletion(t *testing.T) {
	var queried string
	client := &fakeClient{
		statusFn: func(ctx context.Context, h *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
			queried = h.ServerCorrelationID
			return reportStatus(mvola.StatusCompleted, "636042511")(ctx, h)
		},
		detailsFn: func(ctx context.Context, id string) (*mvola.TransactionDetails, error) {
			return &mvola.TransactionDetails{
				TransactionReference: id,
				Status:               mvola.StatusCompleted,
				Amount:               decimal.NewFromInt(1000),
			}, nil
		},
	}
	out := &fakeOutcome{}

	require.NoError(t, newTestForwarder(client, out).Forward(context.Background(), completedNotification))

	require.Equal(t, "abc123", queried)
	require.Len(t, out.calls, 1)
	require.Equal(t, mvola.StatusCompleted, out.calls[0].Status)
	require.True(t, out.calls[0].Found)
	require.Equal(t, "636042511", out.calls[0].Transaction.TransactionReference)
}

func TestForwarderIgnoresForgedCompletion(t *testing.T) {
	client := &fakeClient{
		statusFn: reportStatus(mvola.StatusPending, ""),
		detailsFn: func(ctx context.Context, id string) (*mvola.TransactionDetails, error) {
			t.Fatalf("details must not be fetched for %s", id)
			return nil, nil
		},
	}
	out := &fakeOutcome{}

	require.NoError(t, newTestForwarder(client, out).Forward(context.Background(), completedNotification))
	require.Empty(t, out.calls)
}

func TestForwarderSendsRemoteStatusNotNotified(t *testing.T) {
	client := &fakeClient{statusFn: reportStatus(mvola.StatusFailed, "")}
	out := &fakeOutcome{}

	require.NoError(t, newTestForwarder(client, out).Forward(context.Background(), completedNotification))
	require.Len(t, out.calls, 1)
	require.Equal(t, mvola.StatusFailed, out.calls[0].Status)
	require.False(t, out.calls[0].Found)
	require.Nil(t, out.calls[0].Transaction)
}

func TestForwarderDropsUnconfirmableNotification(t *testing.T) {
	client := &fakeClient{
		statusFn: func(ctx context.Context, h *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
			t.Fatal("status must not be queried without a server correlation id")
			return nil, nil
		},
	}
	out := &fakeOutcome{}

	n := completedNotification
	n.ServerCorrelationID = ""
	require.NoError(t, newTestForwarder(client, out).Forward(context.Background(), n))
	require.Empty(t, out.calls)
}

func TestForwarderReportsQueryFailure(t *testing.T) {
	queryErr := &mvola.TransactionError{Op: "transaction status", StatusCode: 404}
	client := &fakeClient{
		statusFn: func(ctx context.Context, h *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
			return nil, queryErr
		},
	}
	out := &fakeOutcome{}

	err := newTestForwarder(client, out).Forward(context.Background(), completedNotification)
	require.ErrorIs(t, err, queryErr)
	require.Empty(t, out.calls)
}

func TestForwarderReportsDeliveryFailure(t *testing.T) {
	client := &fakeClient{statusFn: reportStatus(mvola.StatusRejected, "")}
	out := &fakeOutcome{err: errors.New("endpoint down")}

	err := newTestForwarder(client, out).Forward(context.Background(), completedNotification)
	require.ErrorContains(t, err, "endpoint down")
	require.Len(t, out.calls, 1)
}
