package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

// StatusConfirmer is the query side of the MVola client.
type StatusConfirmer interface {
	GetStatus(ctx context.Context, handle *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error)
	GetDetails(ctx context.Context, transactionID string) (*mvola.TransactionDetails, error)
}

// NotificationForwarder turns remote notifications into outcomes. A
// notification is only a hint: the status forwarded is the one the API
// reports for the notified server correlation id, never the notified one.
type NotificationForwarder struct {
	client StatusConfirmer
	sender OutcomeSender
	logger *slog.Logger
}

// NewNotificationForwarder builds a forwarder. A nil logger falls back to slog.Default.
func NewNotificationForwarder(client StatusConfirmer, sender OutcomeSender, logger *slog.Logger) *NotificationForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationForwarder{client: client, sender: sender, logger: logger}
}

// Forward confirms n against the API and sends the confirmed outcome when the
// transaction is terminal. Unconfirmable or still-pending notifications are
// dropped.
func (f *NotificationForwarder) Forward(ctx context.Context, n mvola.Notification) error {
	if n.ServerCorrelationID == "" {
		f.logger.Warn("notification without server correlation id dropped",
			"transaction_reference", n.TransactionReference)
		return nil
	}

	confirmed, err := f.client.GetStatus(ctx, &mvola.CorrelationHandle{
		ServerCorrelationID: n.ServerCorrelationID,
		Status:              mvola.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("confirm notification %s: %w", n.ServerCorrelationID, err)
	}

	if confirmed.Status != n.Status() {
		f.logger.Warn("notification disagrees with transaction status",
			"server_correlation_id", n.ServerCorrelationID,
			"notified", n.Status(), "confirmed", confirmed.Status)
	}
	if !confirmed.Status.Terminal() {
		f.logger.Info("notified transaction not settled; nothing forwarded",
			"server_correlation_id", n.ServerCorrelationID, "status", confirmed.Status)
		return nil
	}

	resp := PaymentResponse{
		ServerCorrelationID: confirmed.ServerCorrelationID,
		Status:              confirmed.Status,
		Message:             "confirmed after notification",
	}
	if confirmed.Status == mvola.StatusCompleted && confirmed.ObjectReference != "" {
		details, err := f.client.GetDetails(ctx, confirmed.ObjectReference)
		if err != nil {
			f.logger.Warn("transaction details unavailable",
				"transaction_id", confirmed.ObjectReference, "error", err)
			resp.Message = "transaction completed; details unavailable"
		} else {
			resp.Found = true
			resp.Transaction = details
		}
	}

	if err := f.sender.Send(ctx, resp); err != nil {
		return fmt.Errorf("forward outcome: %w", err)
	}
	return nil
}
