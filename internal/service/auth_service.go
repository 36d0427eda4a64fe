package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"tallybook/api/internal/ids"
	"tallybook/api/internal/models"
	"tallybook/api/internal/repository"
	"tallybook/api/internal/security"
)

const defaultRole = "User"

// decoyHash is verified against on unknown-email logins so that both
// credential failure paths pay the full argon2id cost. Without it, the
// latency gap would reveal which addresses are registered.
var decoyHash = mustDecoyHash()

func mustDecoyHash() []byte {
	hash, err := security.HashPassword("decoy-credential-0")
	if err != nil {
		panic(err)
	}
	return hash
}

// AuthService composes credential verification with the token lifecycle.
// OnUserCreated lets collaborators react to onboarding (e.g. provisioning a
// default todo project) without coupling them into the auth core; failures
// there are logged and never fail the signup.
type AuthService struct {
	users  UserStore
	tokens *TokenService
	log    zerolog.Logger

	OnUserCreated func(ctx context.Context, user models.User)
}

func NewAuthService(users UserStore, tokens *TokenService, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		log:    log,
	}
}

type RegisterInput struct {
	Email    string
	Password string
}

// Register creates a self-service account with the default role.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	return s.createUser(ctx, input.Email, input.Password, defaultRole, false, nil)
}

type CreateUserInput struct {
	Email     string
	Password  string
	Role      string
	CreatedBy string
}

// CreateUser is the admin onboarding path. The new account must change its
// password on first login.
func (s *AuthService) CreateUser(ctx context.Context, input CreateUserInput) (models.User, error) {
	role := input.Role
	if role == "" {
		role = defaultRole
	}
	var createdBy *string
	if input.CreatedBy != "" {
		createdBy = &input.CreatedBy
	}
	return s.createUser(ctx, input.Email, input.Password, role, true, createdBy)
}

func (s *AuthService) createUser(ctx context.Context, email string, password string, role string, mustChange bool, createdBy *string) (models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, errors.New("valid email required")
	}
	if err := security.ValidatePasswordStrength(password); err != nil {
		return models.User{}, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:                 ids.New(),
		Email:              email,
		PasswordHash:       hash,
		Role:               role,
		Active:             true,
		MustChangePassword: mustChange,
		CreatedBy:          createdBy,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, err
	}

	if s.OnUserCreated != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Str("user_id", user.ID).Msg("user-created hook panicked")
				}
			}()
			s.OnUserCreated(ctx, user)
		}()
	}

	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown email and
// wrong password produce the same error and comparable latency, so callers
// can probe neither which field was wrong nor whether the email exists.
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.User, TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = security.VerifyPassword(password, decoyHash)
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}
		return models.User{}, TokenPair{}, err
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return models.User{}, TokenPair{}, ErrInvalidCredentials
	}

	if !user.Active {
		return models.User{}, TokenPair{}, ErrAccountInactive
	}

	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Logout invalidates both presented tokens. Best-effort: a token that
// cannot be decoded at all is simply ignored.
func (s *AuthService) Logout(ctx context.Context, accessToken string, refreshToken string) {
	if accessToken != "" {
		s.tokens.Invalidate(ctx, accessToken)
	}
	if refreshToken != "" {
		s.tokens.Invalidate(ctx, refreshToken)
	}
}

// ChangePassword rotates the credential, clears the must-change flag and
// revokes every outstanding token for the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, current string, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := security.VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if err := security.ValidatePasswordStrength(next); err != nil {
		return err
	}

	hash, err := security.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, false); err != nil {
		return err
	}

	if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("revoke tokens after password change failed")
	}
	return nil
}

// Deactivate soft-disables the account and terminates its sessions.
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("revoke tokens after deactivation failed")
	}
	return nil
}

// Delete hard-deletes the account. Admin operations only; normal flows
// deactivate instead.
func (s *AuthService) Delete(ctx context.Context, userID string) error {
	if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}
	return s.users.Delete(ctx, userID)
}
