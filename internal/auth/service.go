package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// Principal is the authenticated caller of the control API.
type Principal struct {
	Name        string
	Role        string
	Machine     bool
	Permissions []Permission
}

type loginState struct {
	failed      int
	lockedUntil time.Time
}

// AuthService authenticates operators from the configured user list and
// machine tokens from their configured hashes.
type AuthService struct {
	enabled        bool
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	users          map[string]config.UserConfig
	tokens         map[string]config.MachineTokenConfig
	maxFailed      int
	lockDuration   time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu     sync.Mutex
	logins map[string]*loginState
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if !cfg.IsProductionReady() && cfg.Enabled {
		logger.Warn("JWT secret is the development fallback or shorter than 32 chars",
			zap.String("env", cfg.JWTSecretEnv))
	}

	a := &AuthService{
		enabled:        cfg.Enabled,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		users:          make(map[string]config.UserConfig, len(cfg.Users)),
		tokens:         make(map[string]config.MachineTokenConfig, len(cfg.MachineTokens)),
		maxFailed:      cfg.MaxFailedLoginAttempts,
		lockDuration:   cfg.AccountLockDuration,
		logger:         logger,
		now:            time.Now,
		logins:         make(map[string]*loginState),
	}
	for _, u := range cfg.Users {
		a.users[u.Username] = u
	}
	for _, t := range cfg.MachineTokens {
		a.tokens[t.TokenHash] = t
	}
	return a
}

// Enabled reports whether the API requires authentication.
func (a *AuthService) Enabled() bool {
	return a.enabled
}

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(username, password, ipAddress string) (string, time.Time, error) {
	log := a.logger.With(zap.String("username", username), zap.String("ip", ipAddress))

	user, ok := a.users[username]
	if !ok {
		log.Info("Login failed", zap.String("reason", "user not found"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	// Check if account is locked
	if until, locked := a.lockedUntil(username); locked {
		log.Info("Login rejected, account locked", zap.Time("until", until))
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		a.recordFailure(username)
		log.Info("Login failed", zap.String("reason", "invalid password"), zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	a.resetFailures(username)

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(user.Username, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	log.Info("Login successful", zap.String("role", user.Role))
	return token, expiresAt, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(token string) (*Principal, error) {
	// Try JWT first
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return &Principal{
			Name:        claims.Username,
			Role:        claims.Role,
			Permissions: roleToPermissions(claims.Role),
		}, nil
	}

	return a.ValidateMachineToken(token)
}

// ValidateMachineToken validates a machine token and returns its principal
func (a *AuthService) ValidateMachineToken(token string) (*Principal, error) {
	if !ValidateTokenFormat(token) {
		return nil, ErrInvalidToken
	}

	hash := HashToken(token)
	for known, cfg := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(hash)) != 1 {
			continue
		}
		permissions := make([]Permission, len(cfg.Permissions))
		for i, p := range cfg.Permissions {
			permissions[i] = Permission(p)
		}
		return &Principal{Name: cfg.Name, Machine: true, Permissions: permissions}, nil
	}
	return nil, ErrInvalidToken
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) lockedUntil(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.logins[username]
	if !ok || st.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if a.now().Before(st.lockedUntil) {
		return st.lockedUntil, true
	}
	delete(a.logins, username)
	return time.Time{}, false
}

func (a *AuthService) recordFailure(username string) {
	if a.maxFailed <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.logins[username]
	if !ok {
		st = &loginState{}
		a.logins[username] = st
	}
	st.failed++
	if st.failed >= a.maxFailed {
		st.lockedUntil = a.now().Add(a.lockDuration)
		a.logger.Warn("Account locked after failed logins",
			zap.String("username", username),
			zap.Int("attempts", st.failed))
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.logins, username)
}
