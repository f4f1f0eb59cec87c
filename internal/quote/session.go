package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"nsebse-gap/internal/model"
	smartconnect "nsebse-gap/pkg/smartconnect"
)

// Credentials are the Angel One login inputs. TOTPSecret is the base32 seed
// shown when enabling external TOTP, not a one-time code.
type Credentials struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// SessionConfig configures Open.
type SessionConfig struct {
	Credentials

	RootURL string        // empty: production SmartAPI
	Timeout time.Duration // per HTTP request

	ClientPublicIP string
	ClientLocalIP  string
	ClientMAC      string

	Logger *slog.Logger
	Now    func() time.Time
}

// Session is an authenticated SmartAPI handle. It is created by Open and
// released by Close; nothing else holds broker state.
type Session struct {
	sc         *smartconnect.SmartConnect
	clientCode string
	openedAt   time.Time
	expired    atomic.Bool
	logger     *slog.Logger
}

// Open generates a TOTP code and logs in.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.APIKey == "" || cfg.ClientCode == "" || cfg.Password == "" || cfg.TOTPSecret == "" {
		return nil, errors.New("session: incomplete credentials")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	code, err := totp.GenerateCode(cfg.TOTPSecret, cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("session: totp: %w", err)
	}

	sc := smartconnect.NewSmartConnect(smartconnect.Config{
		APIKey:         cfg.APIKey,
		RootURL:        cfg.RootURL,
		Timeout:        cfg.Timeout,
		ClientPublicIP: cfg.ClientPublicIP,
		ClientLocalIP:  cfg.ClientLocalIP,
		ClientMAC:      cfg.ClientMAC,
		Logger:         cfg.Logger,
	})
	if _, err := sc.GenerateSession(ctx, cfg.ClientCode, cfg.Password, code); err != nil {
		return nil, fmt.Errorf("session: login: %w", err)
	}

	s := &Session{
		sc:         sc,
		clientCode: cfg.ClientCode,
		openedAt:   cfg.Now(),
		logger:     cfg.Logger.With(slog.String("component", "session")),
	}
	sc.SessionExpiryHook = func() { s.expired.Store(true) }
	s.logger.Info("session opened", slog.String("client", cfg.ClientCode))
	return s, nil
}

// LTP implements Provider.
func (s *Session) LTP(ctx context.Context, exchange model.Exchange, symbol, token string) (decimal.Decimal, error) {
	res, err := s.sc.LTPData(ctx, exchange.String(), symbol, token)
	if err != nil {
		return decimal.Zero, err
	}
	return ParseLTP(res)
}

// Expired reports whether the broker has rejected the session token.
func (s *Session) Expired() bool { return s.expired.Load() }

// OpenedAt returns the login time.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Renew refreshes the jwt using the stored refresh token.
func (s *Session) Renew(ctx context.Context) error {
	if _, err := s.sc.RenewAccessToken(ctx); err != nil {
		return fmt.Errorf("session: renew: %w", err)
	}
	s.expired.Store(false)
	s.logger.Info("session renewed")
	return nil
}

// Close logs out. The Session must not be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	res, err := s.sc.TerminateSession(ctx, s.clientCode)
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	if st, ok := res["status"].(bool); ok && !st {
		msg, _ := res["message"].(string)
		return fmt.Errorf("session: logout rejected: %s", msg)
	}
	s.logger.Info("session closed")
	return nil
}
