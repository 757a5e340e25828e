package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"relaybot/internal/metrics"
	"relaybot/internal/roster"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// ErrNotAuthorized means the signature was valid but the user holds no Official record.
var ErrNotAuthorized = errors.New("auth: identity not authorized")

// NotAuthorizedMessage is shown to verified users without an Official record.
const NotAuthorizedMessage = "Access denied. Please verify your administrative position by authenticating through the bot before accessing this mini app."

type Config struct {
	BotToken   string // official bot token; signs its Mini App launch data
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// LaunchResult is returned to the Mini App after a successful launch.
type LaunchResult struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PhotoURL     string `json:"photo_url,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Service struct {
	cfg     Config
	roster  *roster.Roster
	issuer  *Issuer
	metrics *metrics.Metrics
	log     logx.Logger
}

func NewService(cfg Config, r *roster.Roster, issuer *Issuer, m *metrics.Metrics, log logx.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{cfg: cfg, roster: r, issuer: issuer, metrics: m, log: log}
}

func (s *Service) Issuer() *Issuer { return s.issuer }

// ValidateLaunch verifies raw launch data, authorizes the user as an Official
// and issues an access/refresh token pair.
func (s *Service) ValidateLaunch(ctx context.Context, raw string) (LaunchResult, error) {
	id, err := VerifyInitData(raw, s.cfg.BotToken)
	if err != nil {
		s.metrics.InitData("invalid")
		s.log.Debug("init data rejected", logx.Err(err))
		return LaunchResult{}, err
	}

	profile, err := s.roster.Lookup(ctx, roster.RoleOfficial, id.ID)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.InitData("unauthorized")
		s.log.Info("launch by unverified user", logx.Int64("user_id", id.ID))
		return LaunchResult{}, ErrNotAuthorized
	}
	if err != nil {
		return LaunchResult{}, fmt.Errorf("auth: lookup official %d: %w", id.ID, err)
	}

	pair, err := s.issuer.IssuePair(map[string]any{
		"sub":   strconv.FormatInt(id.ID, 10),
		"email": profile.Email,
		"name":  profile.Name,
	}, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		return LaunchResult{}, err
	}
	s.metrics.InitData("ok")

	photo := profile.Picture
	if photo == "" {
		photo = id.PhotoURL
	}
	return LaunchResult{
		UserID:       id.ID,
		Email:        profile.Email,
		Name:         profile.Name,
		PhotoURL:     photo,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Authenticate decodes an access token and returns its subject profile.
func (s *Service) Authenticate(token string) (Claims, error) {
	c, err := s.issuer.Decode(token)
	if err != nil {
		return nil, err
	}
	if typ, _ := c["typ"].(string); typ != "access" {
		return nil, fmt.Errorf("%w: not an access token", ErrTokenInvalid)
	}
	return c, nil
}
