// Package smartconnect is an Angel One SmartAPI REST client covering what a
// quote poller needs: password+TOTP login, logout, token renewal, profile and
// last-traded-price lookups.
//
// Usage example:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.GenerateSession(ctx, "CLIENTID", "PIN", "123456"); err != nil {
//	    return err
//	}
//	res, err := sc.LTPData(ctx, "NSE", "SBIN-EQ", "3045")
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	FeedToken    string
	UserID       string

	RootURL        string        // default: https://apiconnect.angelone.in
	Debug          bool          // log request/response bodies at debug level
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	Accept         string        // default: application/json
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default resolved, else 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC

	Logger *slog.Logger
}

type SmartConnect struct {
	apiKey string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	rootURL string
	debug   bool

	httpClient *http.Client
	logger     *slog.Logger

	// header fields
	accept         string
	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// Optional callback for 403 TokenException
	SessionExpiryHook func()
}

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.refresh":      "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.ltp.data":     "/rest/secure/angelbroking/order/v1/getLtpData",
}

// APIError is returned when SmartAPI answers with an error_type payload.
type APIError struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// GetPublicIP asks ipify for the caller's public address.
func GetPublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.ipify.org?format=text", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	ip, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ip)), nil
}

// GetLocalIP returns the first non-loopback IPv4 address.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// NewSmartConnect initializes the client. Client IPs and MAC are resolved
// only when the config leaves them empty.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "smartconnect"))

	if cfg.ClientLocalIP == "" {
		localIP, err := GetLocalIP()
		if err != nil {
			logger.Warn("local IP lookup failed", slog.Any("err", err))
		}
		cfg.ClientLocalIP = firstNonEmpty(localIP, "127.0.0.1")
	}
	if cfg.ClientPublicIP == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		publicIP, err := GetPublicIP(ctx)
		cancel()
		if err != nil {
			logger.Warn("public IP lookup failed", slog.Any("err", err))
		}
		cfg.ClientPublicIP = firstNonEmpty(publicIP, "106.193.147.98")
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = getMACFallback()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		feedToken:      cfg.FeedToken,
		userID:         cfg.UserID,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		logger:         logger,
		accept:         cfg.Accept,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getMACFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", sc.accept)
	h.Set("Accept", sc.accept)
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", sc.userType)
	h.Set("X-SourceID", sc.sourceID)
	if tok := sc.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (sc *SmartConnect) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return sc.rootURL + uri, nil
}

// doRequest sends one API call and decodes the JSON body. Numbers are kept
// as json.Number so prices are not rounded through float64.
func (sc *SmartConnect) doRequest(ctx context.Context, method, route string, params map[string]any) (map[string]any, int, error) {
	fullURL, err := sc.buildURL(route)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	reqURL := fullURL
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, toString(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, 0, fmt.Errorf("encode params: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		sc.logger.Debug("request", slog.String("method", method), slog.String("url", reqURL), slog.Any("params", params))
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if sc.debug {
		sc.logger.Debug("response", slog.Int("status", resp.StatusCode), slog.String("body", string(raw)))
	}

	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("couldn't parse JSON response (status %d): %w", resp.StatusCode, err)
	}

	// {"error_type": "TokenException", "message": "..."}
	if et, ok := out["error_type"].(string); ok && et != "" {
		if sc.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && et == "TokenException" {
			sc.SessionExpiryHook()
		}
		msg, _ := out["message"].(string)
		return out, resp.StatusCode, &APIError{Type: et, Message: msg, StatusCode: resp.StatusCode}
	}
	if st, ok := out["status"].(bool); ok && !st {
		msg, _ := out["message"].(string)
		sc.logger.Warn("API request failed",
			slog.String("route", route), slog.String("message", msg), slog.Any("errorcode", out["errorcode"]))
	}
	return out, resp.StatusCode, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (sc *SmartConnect) get(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	m, _, err := sc.doRequest(ctx, http.MethodGet, route, params)
	return m, err
}

func (sc *SmartConnect) post(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	m, _, err := sc.doRequest(ctx, http.MethodPost, route, params)
	return m, err
}

// ---- Setters/Getters ----

func (sc *SmartConnect) SetUserID(id string) {
	sc.mu.Lock()
	sc.userID = id
	sc.mu.Unlock()
}

func (sc *SmartConnect) UserID() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.userID
}

func (sc *SmartConnect) setTokens(access, refresh, feed string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if access != "" {
		sc.accessToken = access
	}
	if refresh != "" {
		sc.refreshToken = refresh
	}
	if feed != "" {
		sc.feedToken = feed
	}
}

func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

func (sc *SmartConnect) RefreshToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.refreshToken
}

func (sc *SmartConnect) FeedToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.feedToken
}

// ---- API Methods ----

// GenerateSession logs in with client code, PIN and a current TOTP, stores the
// issued tokens and returns the user profile payload.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (map[string]any, error) {
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	res, err := sc.post(ctx, "api.login", params)
	if err != nil {
		return res, err
	}

	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return res, fmt.Errorf("login failed: %s", msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return res, errors.New("unexpected login response format")
	}

	jwtToken, _ := data["jwtToken"].(string)
	refreshToken, _ := data["refreshToken"].(string)
	feedToken, _ := data["feedToken"].(string)
	if jwtToken == "" {
		return res, errors.New("login response carries no jwtToken")
	}
	sc.setTokens(jwtToken, refreshToken, feedToken)

	user, err := sc.GetProfile(ctx, refreshToken)
	if err != nil {
		return user, err
	}
	if udata, ok := user["data"].(map[string]any); ok {
		if cc, _ := udata["clientcode"].(string); cc != "" {
			sc.SetUserID(cc)
		}
		udata["jwtToken"] = "Bearer " + jwtToken
		udata["refreshToken"] = refreshToken
		udata["feedToken"] = feedToken
		user["data"] = udata
	}
	if sc.UserID() == "" {
		sc.SetUserID(clientCode)
	}
	return user, nil
}

// TerminateSession logs the client out.
func (sc *SmartConnect) TerminateSession(ctx context.Context, clientCode string) (map[string]any, error) {
	return sc.post(ctx, "api.logout", map[string]any{"clientcode": clientCode})
}

// GenerateToken exchanges a refresh token for a new jwt and feed token.
func (sc *SmartConnect) GenerateToken(ctx context.Context, refreshToken string) (map[string]any, error) {
	res, err := sc.post(ctx, "api.token", map[string]any{"refreshToken": refreshToken})
	if err != nil {
		return res, err
	}
	if st, ok := res["status"].(bool); ok && !st {
		msg, _ := res["message"].(string)
		return res, fmt.Errorf("token renewal failed: %s", msg)
	}
	if data, ok := res["data"].(map[string]any); ok {
		jwt, _ := data["jwtToken"].(string)
		rt, _ := data["refreshToken"].(string)
		ft, _ := data["feedToken"].(string)
		sc.setTokens(jwt, rt, ft)
	}
	return res, nil
}

// RenewAccessToken renews the session with the stored refresh token.
func (sc *SmartConnect) RenewAccessToken(ctx context.Context) (map[string]any, error) {
	return sc.GenerateToken(ctx, sc.RefreshToken())
}

func (sc *SmartConnect) GetProfile(ctx context.Context, refreshToken string) (map[string]any, error) {
	return sc.get(ctx, "api.user.profile", map[string]any{"refreshToken": refreshToken})
}

// LTPData fetches the last traded price for one instrument. The token is what
// SmartAPI keys on; tradingSymbol is echoed back.
func (sc *SmartConnect) LTPData(ctx context.Context, exchange, tradingSymbol, symbolToken string) (map[string]any, error) {
	return sc.post(ctx, "api.ltp.data", map[string]any{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   symbolToken,
	})
}
