package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsebse-gap/internal/model"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func TestParseLTP(t *testing.T) {
	p, err := ParseLTP(map[string]any{"status": true, "data": map[string]any{"ltp": json.Number("191.10")}})
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("191.1")))

	p, err = ParseLTP(map[string]any{"status": true, "data": map[string]any{"ltp": "2900.5"}})
	require.NoError(t, err)
	assert.Equal(t, "2900.5", p.String())

	bad := []map[string]any{
		{"status": false, "message": "Invalid Token"},
		{"status": true},
		{"status": true, "data": map[string]any{}},
		{"status": true, "data": map[string]any{"ltp": nil}},
		{"status": true, "data": map[string]any{"ltp": "n/a"}},
		{"status": true, "data": map[string]any{"ltp": json.Number("0")}},
		{"status": true, "data": map[string]any{"ltp": true}},
	}
	for i, res := range bad {
		_, err := ParseLTP(res)
		assert.True(t, errors.Is(err, ErrNoPrice), "case %d: %v", i, err)
	}
}

type fakeBroker struct {
	loggedOut bool
	lastTOTP  string
}

func (f *fakeBroker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/auth/angelbroking/user/v1/loginByPassword", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastTOTP = body["totp"]
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt","refreshToken":"ref","feedToken":"feed"}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/user/v1/getProfile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"data":{"clientcode":"C1"}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/getLtpData", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["symboltoken"] == "missing" {
			w.Write([]byte(`{"status":true,"data":{}}`))
			return
		}
		w.Write([]byte(`{"status":true,"data":{"exchange":"` + body["exchange"] + `","ltp":3850.05}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/user/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.loggedOut = true
		w.Write([]byte(`{"status":true,"data":null}`))
	})
	return mux
}

func TestSession_Lifecycle(t *testing.T) {
	broker := &fakeBroker{}
	srv := httptest.NewServer(broker.handler(t))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s, err := Open(ctx, SessionConfig{
		Credentials:    Credentials{APIKey: "k", ClientCode: "C1", Password: "1234", TOTPSecret: testSecret},
		RootURL:        srv.URL,
		Timeout:        time.Second,
		ClientPublicIP: "1.1.1.1",
		ClientLocalIP:  "10.0.0.1",
		ClientMAC:      "aa:bb:cc:dd:ee:ff",
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)

	want, err := totp.GenerateCode(testSecret, now)
	require.NoError(t, err)
	assert.Equal(t, want, broker.lastTOTP)
	assert.Equal(t, now, s.OpenedAt())

	var p Provider = s
	price, err := p.LTP(ctx, model.NSE, "TCS", "11536")
	require.NoError(t, err)
	assert.Equal(t, "3850.05", price.String())

	_, err = p.LTP(ctx, model.BSE, "532540", "missing")
	assert.True(t, errors.Is(err, ErrNoPrice))

	require.NoError(t, s.Close(ctx))
	assert.True(t, broker.loggedOut)
	assert.False(t, s.Expired())
}

func TestOpen_RejectsIncompleteCredentials(t *testing.T) {
	_, err := Open(context.Background(), SessionConfig{Credentials: Credentials{APIKey: "k"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "incomplete"))
}
