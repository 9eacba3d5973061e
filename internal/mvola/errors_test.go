package mvola

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteErrorShapes(t *testing.T) {
	t.Run("merchant pay error", func(t *testing.T) {
		remote := parseRemoteError([]byte(`{
			"errorCategory":"businessRule",
			"errorCode":"4001",
			"errorDescription":"Missing field",
			"errorDateTime":"2026-10-19T08:30:00.000Z",
			"errorParameters":[{"key":"mandatory","value":"requestDate"}]
		}`))
		require.NotNil(t, remote)
		assert.Equal(t, "businessRule", remote.Category)
		assert.Equal(t, "4001", remote.Code)
		assert.Equal(t, "Missing field", remote.Description)
		assert.Equal(t, []KeyValue{{Key: "mandatory", Value: "requestDate"}}, remote.Parameters)
		assert.Equal(t, "category=businessRule code=4001 description=Missing field mandatory=requestDate", remote.String())
	})

	t.Run("gateway fault", func(t *testing.T) {
		remote := parseRemoteError([]byte(`{"fault":{"code":"900902","message":"Missing Credentials","description":"no header"}}`))
		require.NotNil(t, remote)
		assert.Equal(t, "900902", remote.Code)
		assert.Equal(t, "Missing Credentials", remote.Category)
	})

	t.Run("oauth error", func(t *testing.T) {
		remote := parseRemoteError([]byte(`{"error":"invalid_client","error_description":"A valid OAuth client could not be found"}`))
		require.NotNil(t, remote)
		assert.Equal(t, "oauth", remote.Category)
		assert.Equal(t, "invalid_client", remote.Code)
	})

	t.Run("no error fields", func(t *testing.T) {
		assert.Nil(t, parseRemoteError([]byte(`{"status":"pending"}`)))
		assert.Nil(t, parseRemoteError([]byte(`<html>oops</html>`)))
		assert.Nil(t, parseRemoteError(nil))
	})
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify("op", http.StatusOK, nil))
	require.NoError(t, classify("op", http.StatusAccepted, []byte(`{}`)))

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var authErr *AuthError
		require.ErrorAs(t, classify("op", status, []byte(`{"fault":{"code":900901}}`)), &authErr)
		assert.Equal(t, status, authErr.StatusCode)
	}

	var txnErr *TransactionError
	require.ErrorAs(t, classify("initiate payment", http.StatusBadRequest, []byte(`{"errorCode":"4001"}`)), &txnErr)
	assert.Equal(t, http.StatusBadRequest, txnErr.StatusCode)
	assert.Equal(t, "4001", txnErr.Remote.Code)

	require.ErrorAs(t, classify("op", http.StatusBadGateway, []byte("bad gateway")), &txnErr)
	assert.Nil(t, txnErr.Remote)
	assert.Equal(t, "bad gateway", txnErr.Body)
	assert.Equal(t, "mvola transaction: op: status=502 body=bad gateway", txnErr.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&NetworkError{Op: "op", Err: errors.New("connection refused")}))
	assert.True(t, IsRetryable(&AuthError{Op: "token", Err: &NetworkError{Op: "token", Err: errors.New("dns")}}))
	assert.True(t, IsRetryable(&TransactionError{StatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsRetryable(&TransactionError{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsRetryable(&AuthError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsRetryable(&ValidationError{Rule: RuleCurrency}))
	assert.False(t, IsRetryable(&TimeoutError{Attempts: 3}))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusRejected, StatusUnknown} {
		assert.True(t, s.Terminal(), s)
	}
	assert.Equal(t, StatusCompleted, ParseStatus(" Completed "))
	assert.Equal(t, StatusUnknown, ParseStatus("settled"))
}
