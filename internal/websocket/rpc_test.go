package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalResult(t *testing.T) {
	raw := marshalResult(json.RawMessage(`1`), "pong")

	var got rpcResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, json.RawMessage(`1`), got.ID)
	assert.Equal(t, "pong", got.Result)
	assert.Nil(t, got.Error)
}

func TestMarshalError(t *testing.T) {
	raw := marshalError(json.RawMessage(`"abc"`), codeSubscriptionLimit, "subscription_limit")

	var got rpcResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, -32000, got.Error.Code)
	assert.Equal(t, "subscription_limit", got.Error.Message)
	assert.Nil(t, got.Result)
}

func TestMarshalErrorNilID(t *testing.T) {
	raw := marshalError(nil, codeParseError, "parse error")
	assert.NotContains(t, string(raw), `"id"`, "parse failures have no id to echo")

	var got rpcResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	require.NotNil(t, got.Error)
	assert.Equal(t, -32700, got.Error.Code)
}

func TestMarshalNotification(t *testing.T) {
	raw := marshalNotification("new_comment", map[string]string{"comment_id": "c1"})

	var got struct {
		JSONRPC string            `json:"jsonrpc"`
		Method  string            `json:"method"`
		Params  map[string]string `json:"params"`
		ID      *json.RawMessage  `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, "new_comment", got.Method)
	assert.Equal(t, "c1", got.Params["comment_id"])
	assert.Nil(t, got.ID, "notifications carry no id")
}

func TestParseRequest(t *testing.T) {
	var req rpcRequest
	require.NoError(t, json.Unmarshal(
		[]byte(`{"jsonrpc":"2.0","id":7,"method":"subscribe","params":{"page_id":"p1"}}`), &req))
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "subscribe", req.Method)

	var p pageParams
	require.NoError(t, json.Unmarshal(req.Params, &p))
	assert.Equal(t, "p1", p.PageID)
}
