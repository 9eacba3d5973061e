package mvola

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Rule names a business constraint enforced by the Validator.
type Rule string

const (
	RuleAmountMinimum       Rule = "amount_minimum"
	RuleCurrency            Rule = "currency"
	RuleDescriptionRequired Rule = "description_required"
	RuleDescriptionLength   Rule = "description_length"
	RuleDescriptionCharset  Rule = "description_charset"
	RuleMSISDNFormat        Rule = "msisdn_format"
	RuleSandboxMSISDN       Rule = "sandbox_msisdn"
	RuleDistinctParties     Rule = "distinct_parties"
	RuleForeignPair         Rule = "foreign_pair"
	RuleForeignCurrency     Rule = "foreign_currency"
	RuleForeignAmount       Rule = "foreign_amount"
	RuleCallbackURL         Rule = "callback_url"
	RuleIdentifier          Rule = "identifier"
	RulePollBudget          Rule = "poll_budget"
)

// ValidationError is returned before any network call when input breaks a rule.
type ValidationError struct {
	Rule    Rule
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mvola validation: %s: %s", e.Field, e.Message)
}

// KeyValue is the generic key/value pair used across the MVola wire format.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RemoteError is the error payload reported by the MVola API.
type RemoteError struct {
	Category    string
	Code        string
	Description string
	DateTime    string
	Parameters  []KeyValue
}

func (r *RemoteError) String() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, 3+len(r.Parameters))
	if r.Category != "" {
		parts = append(parts, "category="+r.Category)
	}
	if r.Code != "" {
		parts = append(parts, "code="+r.Code)
	}
	if r.Description != "" {
		parts = append(parts, "description="+r.Description)
	}
	for _, p := range r.Parameters {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, " ")
}

// AuthError covers credential exchange failures and 401/403 answers.
type AuthError struct {
	Op         string
	StatusCode int
	Remote     *RemoteError
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	return describe("mvola auth", e.Op, e.StatusCode, e.Remote, e.Body, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransactionError is a remote business failure: a non-success status on a
// business endpoint, or a success status whose body signals failure.
type TransactionError struct {
	Op         string
	StatusCode int
	Status     Status
	Remote     *RemoteError
	Body       string
	Err        error
}

func (e *TransactionError) Error() string {
	msg := describe("mvola transaction", e.Op, e.StatusCode, e.Remote, e.Body, e.Err)
	if e.Status != "" {
		msg += " status=" + string(e.Status)
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Err }

// NetworkError wraps transport failures where no HTTP response was obtained.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("mvola network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a poll budget exhausted while the transaction is still
// pending. A pending transaction is a legitimate outcome, not a failure.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
	Handle   CorrelationHandle
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mvola poll: transaction %s still %s after %d attempts",
		e.Handle.ServerCorrelationID, e.Handle.Status, e.Attempts)
}

func describe(prefix, op string, status int, remote *RemoteError, body string, err error) string {
	var b strings.Builder
	b.WriteString(prefix)
	if op != "" {
		b.WriteString(": ")
		b.WriteString(op)
	}
	if status != 0 {
		fmt.Fprintf(&b, ": status=%d", status)
	}
	switch {
	case remote != nil:
		b.WriteString(" ")
		b.WriteString(remote.String())
	case body != "":
		b.WriteString(" body=")
		b.WriteString(body)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// errorPayload accepts the three error shapes the API is known to return:
// the merchant-pay error object, the gateway fault envelope and OAuth errors.
type errorPayload struct {
	ErrorCategory    string     `json:"errorCategory"`
	ErrorCode        string     `json:"errorCode"`
	ErrorDescription string     `json:"errorDescription"`
	ErrorDateTime    string     `json:"errorDateTime"`
	ErrorParameters  []KeyValue `json:"errorParameters"`

	Fault *struct {
		Code        json.RawMessage `json:"code"`
		Message     string          `json:"message"`
		Description string          `json:"description"`
	} `json:"fault"`

	OAuthError       string `json:"error"`
	OAuthDescription string `json:"error_description"`
}

// parseRemoteError extracts a RemoteError from a response body, or nil when
// the body carries none of the known error fields.
func parseRemoteError(body []byte) *RemoteError {
	if len(body) == 0 {
		return nil
	}
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	switch {
	case p.ErrorCode != "" || p.ErrorCategory != "":
		return &RemoteError{
			Category:    p.ErrorCategory,
			Code:        p.ErrorCode,
			Description: p.ErrorDescription,
			DateTime:    p.ErrorDateTime,
			Parameters:  p.ErrorParameters,
		}
	case p.Fault != nil:
		return &RemoteError{
			Category:    p.Fault.Message,
			Code:        strings.Trim(string(p.Fault.Code), `"`),
			Description: p.Fault.Description,
		}
	case p.OAuthError != "":
		return &RemoteError{
			Category:    "oauth",
			Code:        p.OAuthError,
			Description: p.OAuthDescription,
		}
	}
	return nil
}

// classify maps a completed HTTP exchange on a business endpoint to the error
// taxonomy. It returns nil for 2xx responses.
func classify(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	remote := parseRemoteError(body)
	raw := ""
	if remote == nil {
		raw = truncate(string(body), 512)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthError{Op: op, StatusCode: status, Remote: remote, Body: raw}
	}
	return &TransactionError{Op: op, StatusCode: status, Remote: remote, Body: raw}
}

// IsRetryable reports whether err is a failure a caller may retry at a
// higher level: transport errors and 5xx answers.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode >= 500
	}
	var txnErr *TransactionError
	if errors.As(err, &txnErr) {
		return txnErr.StatusCode >= 500
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
