package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

// PaymentClient defines the subset of the MVola client used by the processor.
type PaymentClient interface {
	InitiatePayment(ctx context.Context, req mvola.PaymentRequest) (*mvola.CorrelationHandle, error)
	GetStatus(ctx context.Context, handle *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error)
	GetDetails(ctx context.Context, transactionID string) (*mvola.TransactionDetails, error)
}

// PaymentEvent represents the payload sent to the Lambda function.
type PaymentEvent struct {
	Amount            int64            `json:"amount"`
	Currency          string           `json:"currency,omitempty"`
	Description       string           `json:"description"`
	DebitMSISDN       string           `json:"debitMsisdn"`
	CreditMSISDN      string           `json:"creditMsisdn"`
	ForeignCurrency   string           `json:"foreignCurrency,omitempty"`
	ForeignAmount     *decimal.Decimal `json:"foreignAmount,omitempty"`
	CallbackURL       string           `json:"callbackUrl,omitempty"`
	Reference         string           `json:"reference,omitempty"`
	OriginalReference string           `json:"originalReference,omitempty"`
	CorrelationID     string           `json:"correlationId,omitempty"`
	Location          *mvola.Location  `json:"location,omitempty"`
}

func (e PaymentEvent) request() mvola.PaymentRequest {
	return mvola.PaymentRequest{
		Amount:                e.Amount,
		Currency:              e.Currency,
		Description:           e.Description,
		DebitMSISDN:           e.DebitMSISDN,
		CreditMSISDN:          e.CreditMSISDN,
		ForeignCurrency:       e.ForeignCurrency,
		ForeignAmount:         e.ForeignAmount,
		CallbackURL:           e.CallbackURL,
		OrganisationReference: e.Reference,
		OriginalReference:     e.OriginalReference,
		CorrelationID:         e.CorrelationID,
		Location:              e.Location,
	}
}

// PaymentResponse is emitted after processing completes.
type PaymentResponse struct {
	CorrelationID       string                    `json:"correlationId"`
	ServerCorrelationID string                    `json:"serverCorrelationId"`
	Status              mvola.Status              `json:"status"`
	Found               bool                      `json:"found"`
	Transaction         *mvola.TransactionDetails `json:"transaction,omitempty"`
	Message             string                    `json:"message,omitempty"`
	Request             PaymentEvent              `json:"request"`
}

// OutcomeSender delivers payment outcomes to downstream systems.
type OutcomeSender interface {
	Send(ctx context.Context, payload PaymentResponse) error
}

// Processor coordinates payment initiation and status polling.
type Processor struct {
	client       PaymentClient
	poller       *mvola.Poller
	pollerOpts   []mvola.PollerOption
	maxAttempts  int
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
	outcome      OutcomeSender
}

// Option customizes the processor.
type Option func(*Processor)

// WithPollInterval adjusts the delay between status calls.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.pollInterval = d
		}
	}
}

// WithPollAttempts bounds the number of status calls per payment.
func WithPollAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithTimeout caps the total polling time. Zero leaves only the attempt budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithPollerOptions forwards options to the underlying poller.
func WithPollerOptions(opts ...mvola.PollerOption) Option {
	return func(p *Processor) {
		p.pollerOpts = append(p.pollerOpts, opts...)
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOutcomeSender wires a destination invoked after processing concludes.
func WithOutcomeSender(sender OutcomeSender) Option {
	return func(p *Processor) {
		p.outcome = sender
	}
}

// NewProcessor builds a Processor with sane defaults.
func NewProcessor(client PaymentClient, opts ...Option) *Processor {
	p := &Processor{
		client:       client,
		maxAttempts:  5,
		pollInterval: 3 * time.Second,
		logger:       slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.poller = mvola.NewPoller(client,
		append([]mvola.PollerOption{mvola.WithPollerLogger(p.logger)}, p.pollerOpts...)...)
	return p
}

// Handle implements the AWS Lambda handler entry point.
func (p *Processor) Handle(ctx context.Context, event PaymentEvent) (PaymentResponse, error) {
	p.logger.Info("initiating payment",
		"amount", event.Amount, "debit", event.DebitMSISDN, "credit", event.CreditMSISDN)

	handle, err := p.client.InitiatePayment(ctx, event.request())
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("initiate payment: %w", err)
	}

	p.logger.Info("payment accepted; starting polling",
		"correlation_id", handle.CorrelationID, "server_correlation_id", handle.ServerCorrelationID)

	resp := PaymentResponse{
		CorrelationID:       handle.CorrelationID,
		ServerCorrelationID: handle.ServerCorrelationID,
		Status:              handle.Status,
		Request:             event,
	}

	final, err := p.poll(ctx, handle)
	if err != nil {
		var timeout *mvola.TimeoutError
		switch {
		case errors.As(err, &timeout):
			resp.Status = mvola.StatusPending
			resp.Message = fmt.Sprintf("transaction still pending after %d status checks", timeout.Attempts)
		case errors.Is(err, mvola.ErrPollCancelled):
			resp.Status = mvola.StatusPending
			resp.Message = "status polling stopped before the transaction settled"
		default:
			return PaymentResponse{}, fmt.Errorf("poll transaction: %w", err)
		}
		p.logger.Warn(resp.Message, "server_correlation_id", handle.ServerCorrelationID)
		p.emitOutcome(ctx, resp)
		return resp, nil
	}

	resp.Status = final.Status
	switch final.Status {
	case mvola.StatusCompleted:
		p.attachDetails(ctx, &resp, final)
	case mvola.StatusUnknown:
		resp.Message = "transaction reported an unrecognized status"
	default:
		resp.Message = "transaction " + string(final.Status)
	}

	p.emitOutcome(ctx, resp)
	return resp, nil
}

func (p *Processor) poll(ctx context.Context, handle *mvola.CorrelationHandle) (*mvola.CorrelationHandle, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.poller.PollUntilTerminal(ctx, handle, p.maxAttempts, p.pollInterval)
}

// attachDetails fetches the settled transaction. A lookup failure is logged
// and leaves Found false; the payment itself has already completed.
func (p *Processor) attachDetails(ctx context.Context, resp *PaymentResponse, handle *mvola.CorrelationHandle) {
	if handle.ObjectReference == "" {
		resp.Message = "transaction completed without an object reference"
		return
	}
	details, err := p.client.GetDetails(ctx, handle.ObjectReference)
	if err != nil {
		p.logger.Warn("transaction details unavailable",
			"transaction_id", handle.ObjectReference, "error", err)
		resp.Message = "transaction completed; details unavailable"
		return
	}
	p.logger.Info("transaction completed", "transaction_id", handle.ObjectReference)
	resp.Found = true
	resp.Transaction = details
}

func (p *Processor) emitOutcome(ctx context.Context, resp PaymentResponse) {
	if p.outcome == nil {
		return
	}
	if err := p.outcome.Send(context.WithoutCancel(ctx), resp); err != nil {
		p.logger.Error("outcome delivery failed",
			"correlation_id", resp.CorrelationID, "error", err)
	}
}
