package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/vedran77/mavis/internal/domain"
	"github.com/vedran77/mavis/internal/repository"
	"github.com/vedran77/mavis/pkg/validator"
)

var (
	ErrEmailTaken    = fmt.Errorf("email %w", ErrAlreadyExists)
	ErrUsernameTaken = fmt.Errorf("username %w", ErrAlreadyExists)
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// ErrInvalidCreds covers both an unknown email and a wrong password so login
// does not reveal which accounts exist.
var ErrInvalidCreds = fmt.Errorf("invalid email or password: %w", ErrNotFound)

var AvatarPalette = []string{"#EF4444", "#F59E0B", "#10B981", "#3B82F6", "#6366F1", "#8B5CF6", "#EC4899"}

const (
	defaultBio   = "New to MavisChat"
	recoveredBio = "Recovered Account"
	searchLimit  = 20
)

type AuthService struct {
	users     repository.UserRepository
	creds     repository.CredentialRepository
	presence  *PresenceService
	notifier  Notifier
	logger    *zap.Logger
	jwtSecret []byte
	tokenTTL  time.Duration
	admins    map[string]struct{}
	now       func() time.Time

	revokedMu sync.Mutex
	revoked   map[string]time.Time
}

func NewAuthService(
	users repository.UserRepository,
	creds repository.CredentialRepository,
	presence *PresenceService,
	jwtSecret string,
	tokenTTL time.Duration,
	adminEmails []string,
	logger *zap.Logger,
) *AuthService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		admins[domain.EmailKey(e)] = struct{}{}
	}
	return &AuthService{
		users:     users,
		creds:     creds,
		presence:  presence,
		notifier:  nopNotifier{},
		logger:    logger.With(zap.String("component", "auth")),
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		admins:    admins,
		now:       time.Now,
		revoked:   make(map[string]time.Time),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *AuthService) SetNotifier(n Notifier) {
	s.notifier = n
}

type RegisterInput struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateProfileInput struct {
	DisplayName          *string `json:"display_name"`
	Bio                  *string `json:"bio"`
	AvatarColor          *string `json:"avatar_color"`
	AvatarURL            *string `json:"avatar_url"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
}

type AuthResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
}

// Claims is what a verified access token carries.
type Claims struct {
	UserID  string
	TokenID string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	if err := validator.ValidateRegister(input.Email, input.Username, input.Password).Err(); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(input.Email)
	username := domain.CleanUsername(input.Username)

	existingCred, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existingCred != nil {
		return nil, ErrEmailTaken
	}

	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	cred := &domain.Credential{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating credential: %w", err)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = username
	}
	user := &domain.User{
		ID:                   cred.UserID,
		Username:             username,
		DisplayName:          displayName,
		Email:                email,
		Bio:                  defaultBio,
		AvatarColor:          randomAvatarColor(),
		IsAdmin:              s.isAdminEmail(email),
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// Roll back so the email can be registered again.
		if delErr := s.creds.Delete(ctx, email); delErr != nil {
			s.logger.Error("removing orphaned credential", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.Bool("admin", user.IsAdmin))
	return &AuthResponse{User: user, AccessToken: token}, nil
}

// Login verifies credentials. A missing profile is rebuilt from the
// credential, and the admin flag is re-applied from the allow-list. A banned
// user gets ErrBanned and no token.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	if err := validator.ValidateLogin(input.Email, input.Password).Err(); err != nil {
		return nil, err
	}

	cred, err := s.creds.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if cred == nil || !verifyPassword(input.Password, cred.PasswordHash) {
		return nil, ErrInvalidCreds
	}

	user, err := s.users.GetByID(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if user, err = s.recoverProfile(ctx, cred); err != nil {
			return nil, err
		}
	}

	if s.isAdminEmail(cred.Email) && !user.IsAdmin {
		patched, err := s.users.SetAdmin(ctx, user.ID, true)
		if err != nil {
			return nil, fmt.Errorf("restoring admin flag: %w", err)
		}
		if patched != nil {
			user = patched
		}
	}

	if user.IsBanned {
		return nil, ErrBanned
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	if err := s.presence.Hydrate(ctx, user); err != nil {
		s.logger.Warn("hydrating presence", zap.Error(err))
	}
	return &AuthResponse{User: user, AccessToken: token}, nil
}

// recoverProfile builds a minimal profile for a credential whose profile
// record is missing.
func (s *AuthService) recoverProfile(ctx context.Context, cred *domain.Credential) (*domain.User, error) {
	local, _, _ := strings.Cut(cred.Email, "@")
	base := sanitizeUsername(local)

	now := s.now().UTC()
	for attempt := 0; attempt < 10; attempt++ {
		username := base
		if attempt > 0 {
			username = base + strconv.Itoa(1000+mrand.IntN(9000))
		}
		user := &domain.User{
			ID:                   cred.UserID,
			Username:             username,
			DisplayName:          local,
			Email:                cred.Email,
			Bio:                  recoveredBio,
			AvatarColor:          randomAvatarColor(),
			NotificationsEnabled: true,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.Warn("recovered missing profile", zap.String("user_id", user.ID))
			return user, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("recovering profile: %w", err)
		}
		// The id may have been created concurrently.
		if existing, getErr := s.users.GetByID(ctx, cred.UserID); getErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("recovering profile: %w", ErrUsernameTaken)
}

// Logout revokes the token and terminates the live sessions opened with it.
// The user goes offline unless sessions from another login remain.
func (s *AuthService) Logout(ctx context.Context, claims Claims) error {
	s.revoke(claims.TokenID)
	if err := s.presence.DisconnectToken(ctx, claims.UserID, claims.TokenID); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

func (s *AuthService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if err := s.presence.Hydrate(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*domain.User, error) {
	if err := validator.ValidateProfile(input.DisplayName, input.Bio, input.AvatarColor, input.AvatarURL).Err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.IsBanned {
		return nil, ErrBanned
	}

	if input.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.Bio != nil {
		user.Bio = *input.Bio
	}
	if input.AvatarColor != nil {
		user.AvatarColor = *input.AvatarColor
	}
	if input.AvatarURL != nil {
		if *input.AvatarURL == "" {
			user.AvatarURL = nil
		} else {
			url := *input.AvatarURL
			user.AvatarURL = &url
		}
	}
	if input.NotificationsEnabled != nil {
		user.NotificationsEnabled = *input.NotificationsEnabled
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	s.notifier.NotifyUser(user.ID)

	if err := s.presence.Hydrate(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// FindUsers matches usernames case-insensitively by substring, excluding the
// caller.
func (s *AuthService) FindUsers(ctx context.Context, callerID, query string) ([]domain.User, error) {
	query = domain.CleanUsername(query)
	if query == "" {
		return []domain.User{}, nil
	}

	users, err := s.users.Search(ctx, query, callerID, searchLimit)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*domain.User, len(users))
	for i := range users {
		ptrs[i] = &users[i]
	}
	if err := s.presence.Hydrate(ctx, ptrs...); err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// ParseToken verifies an access token and returns its claims.
func (s *AuthService) ParseToken(tokenStr string) (Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &rc, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || rc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	if s.isRevoked(rc.ID) {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: rc.Subject, TokenID: rc.ID}, nil
}

func (s *AuthService) generateToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) revoke(tokenID string) {
	if tokenID == "" {
		return
	}
	s.revokedMu.Lock()
	defer s.revokedMu.Unlock()

	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[tokenID] = now.Add(s.tokenTTL)
}

func (s *AuthService) isRevoked(tokenID string) bool {
	s.revokedMu.Lock()
	defer s.revokedMu.Unlock()
	_, ok := s.revoked[tokenID]
	return ok
}

func (s *AuthService) isAdminEmail(email string) bool {
	_, ok := s.admins[domain.EmailKey(email)]
	return ok
}

func randomAvatarColor() string {
	return AvatarPalette[mrand.IntN(len(AvatarPalette))]
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() < 3 {
		return "user" + b.String()
	}
	return b.String()
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	return fmt.Sprintf("%s:%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyPassword(password, encoded string) bool {
	saltB64, hashB64, ok := strings.Cut(encoded, ":")
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1
}
