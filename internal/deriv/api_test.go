package deriv

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeriv answers authorize, balance and account_list requests.
func fakeDeriv(conn *websocket.Conn) {
	for {
		req, id, err := readRequest(conn)
		if err != nil {
			return
		}
		switch {
		case req["authorize"] != nil:
			if req["authorize"] != "good-token" {
				conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "authorize",
					"error": map[string]any{"code": "InvalidToken", "message": "The token is invalid."}})
				continue
			}
			conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "authorize", "authorize": map[string]any{
				"email": "trader@example.com", "loginid": "CR123", "currency": "USD",
			}})
		case req["balance"] != nil:
			conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "balance", "balance": map[string]any{
				"balance": 10.5, "currency": "USD", "loginid": "CR123",
				"accounts": map[string]any{
					"CR123": map[string]any{"balance": 10.5, "currency": "USD", "demo_account": 0},
					"VRTC1": map[string]any{"balance": 10000, "currency": "USD", "demo_account": 1},
				},
			}})
		case req["account_list"] != nil:
			conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "account_list", "account_list": []map[string]any{
				{"loginid": "CR123", "currency": "USD", "account_type": "trading", "account_category": "trading", "is_virtual": 0},
				{"loginid": "VRTC1", "currency": "USD", "account_type": "trading", "account_category": "trading", "is_virtual": 1},
			}})
		case req["ticks"] != nil:
			conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "tick",
				"error": map[string]any{"code": "MarketIsClosed", "message": "closed"}})
			for i := 0; i < 3; i++ {
				conn.WriteJSON(map[string]any{"req_id": id, "msg_type": "tick",
					"tick": map[string]any{"symbol": req["ticks"], "quote": 100.1 + float64(i), "epoch": i}})
			}
		}
	}
}

func TestClient_Authorize(t *testing.T) {
	client := newTestClient(t, mockWSServer(t, fakeDeriv))

	res, err := client.Authorize(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", res.Email)
	assert.Equal(t, "CR123", res.LoginID)
	assert.Equal(t, "USD", res.Currency)

	_, err = client.Authorize(context.Background(), "bad-token")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "InvalidToken", remote.Code)
}

func TestClient_GetAccountBalanceAndList(t *testing.T) {
	client := newTestClient(t, mockWSServer(t, fakeDeriv))
	ctx := context.Background()

	bal, err := client.GetAccountBalance(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, 10.5, bal.Balance)
	assert.Len(t, bal.Accounts, 2)
	assert.Equal(t, 1, bal.Accounts["VRTC1"].DemoAccount)

	accounts, err := client.GetAccountList(ctx, "good-token")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "CR123", accounts[0].LoginID)
	assert.Equal(t, 1, accounts[1].IsVirtual)

	_, err = client.GetAccountList(ctx, "bad-token")
	assert.Error(t, err)
}

func TestClient_SubscribeTicksSkipsErrors(t *testing.T) {
	client := newTestClient(t, mockWSServer(t, fakeDeriv))

	ticks := make(chan json.RawMessage, 3)
	_, err := client.SubscribeTicks("R_50", func(tick json.RawMessage) { ticks <- tick })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case raw := <-ticks:
			var tick struct {
				Symbol string `json:"symbol"`
				Epoch  int    `json:"epoch"`
			}
			require.NoError(t, json.Unmarshal(raw, &tick))
			assert.Equal(t, "R_50", tick.Symbol)
			assert.Equal(t, i, tick.Epoch)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not received", i)
		}
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	server := mockWSServer(t, drain)
	cfg := DefaultClientConfig(wsURL(server))
	cfg.RequestTimeout = 50 * time.Millisecond
	client := NewClient(cfg, nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	_, err := client.Authorize(context.Background(), "good-token")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
