package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *SmartConnect {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSmartConnect(Config{
		APIKey:         "key",
		RootURL:        srv.URL,
		ClientPublicIP: "1.2.3.4",
		ClientLocalIP:  "10.0.0.2",
		ClientMAC:      "aa:bb:cc:dd:ee:ff",
	})
}

func TestGenerateSession_StoresTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(routes["api.login"], func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-PrivateKey"))
		assert.Equal(t, "1.2.3.4", r.Header.Get("X-ClientPublicIP"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "C123", body["clientcode"])
		assert.Equal(t, "654321", body["totp"])
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt-1","refreshToken":"ref-1","feedToken":"feed-1"}}`))
	})
	mux.HandleFunc(routes["api.user.profile"], func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-1", r.Header.Get("Authorization"))
		assert.Equal(t, "ref-1", r.URL.Query().Get("refreshToken"))
		w.Write([]byte(`{"status":true,"data":{"clientcode":"C123","name":"Test"}}`))
	})

	sc := newTestClient(t, mux)
	user, err := sc.GenerateSession(context.Background(), "C123", "1111", "654321")
	require.NoError(t, err)

	assert.Equal(t, "jwt-1", sc.AccessToken())
	assert.Equal(t, "ref-1", sc.RefreshToken())
	assert.Equal(t, "feed-1", sc.FeedToken())
	assert.Equal(t, "C123", sc.UserID())
	data := user["data"].(map[string]any)
	assert.Equal(t, "Bearer jwt-1", data["jwtToken"])
}

func TestGenerateSession_Rejected(t *testing.T) {
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`))
	}))
	_, err := sc.GenerateSession(context.Background(), "C123", "1111", "000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid totp")
	assert.Empty(t, sc.AccessToken())
}

func TestLTPData_KeepsNumberPrecision(t *testing.T) {
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, routes["api.ltp.data"], r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "NSE", body["exchange"])
		assert.Equal(t, "11536", body["symboltoken"])
		w.Write([]byte(`{"status":true,"message":"SUCCESS","data":{"exchange":"NSE","tradingsymbol":"TCS","symboltoken":"11536","ltp":3850.05}}`))
	}))

	res, err := sc.LTPData(context.Background(), "NSE", "TCS", "11536")
	require.NoError(t, err)
	data := res["data"].(map[string]any)
	assert.Equal(t, json.Number("3850.05"), data["ltp"])
}

func TestTokenException_TriggersHook(t *testing.T) {
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error_type":"TokenException","message":"Token expired"}`))
	}))
	expired := false
	sc.SessionExpiryHook = func() { expired = true }

	_, err := sc.LTPData(context.Background(), "BSE", "532540", "532540")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "TokenException", apiErr.Type)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.True(t, expired)
}

func TestRenewAccessToken(t *testing.T) {
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ref-0", body["refreshToken"])
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt-2","refreshToken":"ref-2","feedToken":"feed-2"}}`))
	}))
	sc.setTokens("jwt-1", "ref-0", "")

	_, err := sc.RenewAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", sc.AccessToken())
	assert.Equal(t, "ref-2", sc.RefreshToken())
}

func TestMalformedBody(t *testing.T) {
	sc := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	_, err := sc.LTPData(context.Background(), "NSE", "TCS", "11536")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
