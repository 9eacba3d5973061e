package mvola

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultUserLanguage = "FR"
	apiVersion          = "1.0"
	requestDateLayout   = "2006-01-02T15:04:05.000Z"
)

// HTTPDoer is the transport used for every outgoing call.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies bearer tokens to the client.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (Token, error)
	Invalidate()
}

// Client initiates merchant payments and queries their state.
type Client struct {
	httpClient   HTTPDoer
	baseURL      string
	creds        Credentials
	tokens       TokenSource
	validator    *Validator
	userLanguage string
	callbackURL  string
	newID        func() string
	now          func() time.Time
	logger       *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient sets the transport for business calls.
func WithHTTPClient(c HTTPDoer) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithBaseURL overrides the environment host.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		if u = strings.TrimSpace(u); u != "" {
			cl.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithTokenSource replaces the token manager built from the credentials.
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) {
		if ts != nil {
			cl.tokens = ts
		}
	}
}

// WithValidationRules replaces the environment's default rules.
func WithValidationRules(rules ValidationRules) Option {
	return func(cl *Client) {
		cl.validator = NewValidator(rules)
	}
}

// WithUserLanguage sets the UserLanguage header (FR or MG).
func WithUserLanguage(lang string) Option {
	return func(cl *Client) {
		if lang = strings.ToUpper(strings.TrimSpace(lang)); lang != "" {
			cl.userLanguage = lang
		}
	}
}

// WithDefaultCallbackURL is used for payments that carry no callback URL.
func WithDefaultCallbackURL(u string) Option {
	return func(cl *Client) {
		cl.callbackURL = strings.TrimSpace(u)
	}
}

// WithIDGenerator injects the correlation-id source.
func WithIDGenerator(fn func() string) Option {
	return func(cl *Client) {
		if fn != nil {
			cl.newID = fn
		}
	}
}

// WithClock injects the time source used for request dates.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// WithLogger lets callers supply a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient builds a client for creds. Unless WithTokenSource is given, a
// TokenManager sharing the client's transport and host is created.
func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:      creds.Environment().BaseURL(),
		creds:        creds,
		validator:    NewValidator(DefaultRules(creds.Environment())),
		userLanguage: defaultUserLanguage,
		newID:        uuid.NewString,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewTokenManager(creds,
			WithTokenHTTPClient(c.httpClient),
			WithTokenBaseURL(c.baseURL),
			WithTokenLogger(c.logger),
		)
	}
	return c
}

// Validate runs the client's validation rules against req.
func (c *Client) Validate(req PaymentRequest) error {
	return c.validator.Validate(withDefaults(req))
}

// InitiatePayment validates req and submits it. The returned handle carries
// the correlation id sent and the server correlation id used for polling.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (*CorrelationHandle, error) {
	req = withDefaults(req)
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}
	if err := c.validator.Validate(req); err != nil {
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = c.newID()
	}
	orgRef := req.OrganisationReference
	if orgRef == "" {
		orgRef = organisationReference(c.newID())
	}

	body := paymentBody{
		Amount:                       strconv.FormatInt(req.Amount, 10),
		Currency:                     req.Currency,
		DescriptionText:              req.Description,
		OrganisationReference:        orgRef,
		RequestDate:                  c.now().UTC().Format(requestDateLayout),
		OriginalTransactionReference: req.OriginalReference,
		DebitParty:                   []KeyValue{{Key: "msisdn", Value: req.DebitMSISDN}},
		CreditParty:                  []KeyValue{{Key: "msisdn", Value: req.CreditMSISDN}},
		Metadata:                     []KeyValue{{Key: "partnerName", Value: c.creds.PartnerName()}},
	}
	if req.ForeignCurrency != "" && req.ForeignAmount != nil {
		body.Metadata = append(body.Metadata,
			KeyValue{Key: "fc", Value: req.ForeignCurrency},
			KeyValue{Key: "amountFc", Value: req.ForeignAmount.String()},
		)
	}

	call := apiCall{
		op:            "initiate payment",
		method:        http.MethodPost,
		path:          merchantPayPath,
		correlationID: correlationID,
		callbackURL:   req.CallbackURL,
		location:      req.Location,
		payload:       body,
	}

	c.logger.Info("initiating merchant payment",
		"correlation_id", correlationID, "amount", req.Amount, "currency", req.Currency)

	data, err := c.do(ctx, call)
	if err != nil {
		return nil, err
	}

	var resp initiateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Body: truncate(string(data), 512),
			Err: fmt.Errorf("decode initiate response: %w", err)}
	}
	if remote := parseRemoteError(data); remote != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Remote: remote}
	}
	if resp.ServerCorrelationID == "" {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Body: "response missing serverCorrelationId"}
	}

	// An accepted submission without a status is still being processed.
	status := StatusPending
	if strings.TrimSpace(resp.Status) != "" {
		status = ParseStatus(resp.Status)
	}
	if status == StatusFailed || status == StatusRejected {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Status: status,
			Body: "payment " + string(status) + " on submission"}
	}

	return &CorrelationHandle{
		CorrelationID:       correlationID,
		ServerCorrelationID: resp.ServerCorrelationID,
		Status:              status,
		NotificationMethod:  resp.NotificationMethod,
		UpdatedAt:           c.now(),
	}, nil
}

// GetStatus queries the remote state of handle and returns an updated copy.
// A handle that is already terminal is returned unchanged without a call.
func (c *Client) GetStatus(ctx context.Context, handle *CorrelationHandle) (*CorrelationHandle, error) {
	if handle == nil || handle.ServerCorrelationID == "" {
		return nil, invalid(RuleIdentifier, "server_correlation_id", "server correlation id is required")
	}
	updated := *handle
	if handle.Status.Terminal() {
		return &updated, nil
	}

	call := apiCall{
		op:     "transaction status",
		method: http.MethodGet,
		path:   merchantPayPath + "status/" + url.PathEscape(handle.ServerCorrelationID),
	}
	data, err := c.do(ctx, call)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Body: truncate(string(data), 512),
			Err: fmt.Errorf("decode status response: %w", err)}
	}
	if remote := parseRemoteError(data); remote != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Remote: remote}
	}
	if strings.TrimSpace(resp.Status) == "" {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Body: "response missing status"}
	}

	updated.Status = ParseStatus(resp.Status)
	if resp.NotificationMethod != "" {
		updated.NotificationMethod = resp.NotificationMethod
	}
	if resp.ObjectReference != "" {
		updated.ObjectReference = resp.ObjectReference
	}
	updated.UpdatedAt = c.now()

	if updated.Status == StatusUnknown {
		c.logger.Warn("unrecognized transaction status",
			"server_correlation_id", handle.ServerCorrelationID, "status", resp.Status)
	}
	return &updated, nil
}

// GetDetails fetches the snapshot of a terminal transaction.
func (c *Client) GetDetails(ctx context.Context, transactionID string) (*TransactionDetails, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, invalid(RuleIdentifier, "transaction_id", "transaction id is required")
	}

	call := apiCall{
		op:     "transaction details",
		method: http.MethodGet,
		path:   merchantPayPath + url.PathEscape(transactionID),
	}
	data, err := c.do(ctx, call)
	if err != nil {
		return nil, err
	}

	var resp detailsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Body: truncate(string(data), 512),
			Err: fmt.Errorf("decode details response: %w", err)}
	}
	if remote := parseRemoteError(data); remote != nil {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Remote: remote}
	}

	status := ParseStatus(resp.TransactionStatus)
	if !status.Terminal() || status == StatusUnknown {
		return nil, &TransactionError{Op: call.op, StatusCode: http.StatusOK, Status: status,
			Body: fmt.Sprintf("transaction %s is not in a terminal state (%q)", transactionID, resp.TransactionStatus)}
	}

	return &TransactionDetails{
		Amount:               resp.Amount,
		Currency:             resp.Currency,
		TransactionReference: resp.TransactionReference,
		Status:               status,
		CreateDate:           resp.CreateDate,
		RequestDate:          resp.RequestDate,
		DebitParty:           resp.DebitParty,
		CreditParty:          resp.CreditParty,
		Fees:                 resp.Fee,
		Metadata:             resp.Metadata,
	}, nil
}

type apiCall struct {
	op            string
	method        string
	path          string
	correlationID string
	callbackURL   string
	location      *Location
	payload       any
}

// do sends call with a current bearer token and returns the 2xx body.
// Non-2xx answers are classified; a 401/403 drops the cached token.
func (c *Client) do(ctx context.Context, call apiCall) ([]byte, error) {
	token, err := c.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if call.payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(call.payload); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", call.op, err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, call.method, c.baseURL+call.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", call.op, err)
	}
	c.setHeaders(req, token, call)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: call.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: call.op, Err: err}
	}

	if err := classify(call.op, resp.StatusCode, data); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.tokens.Invalidate()
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, token Token, call apiCall) {
	correlationID := call.correlationID
	if correlationID == "" {
		correlationID = c.newID()
	}

	req.Header.Set("Version", apiVersion)
	req.Header.Set("X-CorrelationID", correlationID)
	req.Header.Set("UserLanguage", c.userLanguage)
	req.Header.Set("UserAccountIdentifier", "msisdn;"+c.creds.PartnerMSISDN())
	req.Header.Set("partnerName", c.creds.PartnerName())
	req.Header.Set("Authorization", token.AuthorizationHeader())
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")
	if call.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if call.callbackURL != "" {
		req.Header.Set("X-Callback-URL", call.callbackURL)
	}
	if loc := call.location; loc != nil {
		setIfPresent(req.Header, "CellIdA", loc.CellIDA)
		setIfPresent(req.Header, "GeoLocationA", loc.GeoLocationA)
		setIfPresent(req.Header, "CellIdB", loc.CellIDB)
		setIfPresent(req.Header, "GeoLocationB", loc.GeoLocationB)
	}
}

func setIfPresent(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// organisationReference derives a short MVOLA-xxxxxxxx reference from an id.
func organisationReference(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "MVOLA-" + id
}

func withDefaults(req PaymentRequest) PaymentRequest {
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	return req
}
