// Package mvola is a client for the MVola merchant-payment API.
//
// A TokenManager exchanges partner credentials for a bearer token and caches
// it until a safety margin before expiry; concurrent callers share a single
// in-flight refresh. Client validates a PaymentRequest locally, submits it and
// returns a CorrelationHandle, which Poller then drives to a terminal status
// within a bounded number of attempts.
//
// Every failure is one of *ValidationError, *AuthError, *TransactionError,
// *NetworkError or *TimeoutError; a cancelled poll wraps ErrPollCancelled.
// Use errors.As to branch on them.
package mvola
