package identity

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/humanreel/backend/internal/apperr"
	"github.com/humanreel/backend/internal/logging"
	"github.com/humanreel/backend/internal/models"
	"github.com/humanreel/backend/internal/repositories"
)

// RenameCooldown is the minimum time between two display name changes.
const RenameCooldown = 30 * 24 * time.Hour

// MinModeratorPasswordLength is the shortest accepted moderator password.
const MinModeratorPasswordLength = 6

var displayNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// AccountStore captures the persistence operations the gate needs.
type AccountStore interface {
	Create(ctx context.Context, account models.Account) error
	FindByID(ctx context.Context, id string) (models.Account, error)
	FindByCredential(ctx context.Context, credentialID string) (models.Account, error)
	FindByDisplayName(ctx context.Context, name string) (models.Account, error)
	MarkVerified(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string, changedAt, notChangedSince time.Time) error
	SetModerator(ctx context.Context, id string, moderator bool) error
	SetModeratorPassword(ctx context.Context, id, hash string) error
}

// Gate binds verification credentials to accounts and guards account changes.
type Gate struct {
	Accounts   AccountStore
	Verifier   Verifier
	NowFunc    func() time.Time
	BcryptCost int
}

// NewGate constructs a gate over the provided store and verifier.
func NewGate(accounts AccountStore, verifier Verifier) *Gate {
	return &Gate{Accounts: accounts, Verifier: verifier}
}

// Verify resolves a personhood proof to an account, creating one when the
// credential is new. It reports whether an account was created.
func (g *Gate) Verify(ctx context.Context, proof Proof, proposedName string) (models.Account, bool, error) {
	logger := logging.FromContext(ctx)

	verification, err := g.Verifier.Verify(ctx, proof)
	if err != nil {
		return models.Account{}, false, apperr.Wrap(apperr.ErrUpstream, "Identity provider unavailable", err)
	}
	if !verification.Valid || verification.CredentialID == "" {
		return models.Account{}, false, apperr.New(apperr.ErrUnauthorized, "Verification failed")
	}

	proposedName = strings.TrimSpace(proposedName)

	existing, err := g.Accounts.FindByCredential(ctx, verification.CredentialID)
	switch {
	case err == nil:
		if proposedName != "" && proposedName != existing.DisplayName {
			logger.Warn("verify attempted to rename bound account", slog.String("accountId", existing.ID))
			return models.Account{}, false, apperr.New(apperr.ErrConflict, "Credential is already bound to another display name")
		}
		if !existing.IsVerified {
			if err := g.Accounts.MarkVerified(ctx, existing.ID); err != nil {
				return models.Account{}, false, err
			}
			existing.IsVerified = true
		}
		return existing, false, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return models.Account{}, false, err
	}

	if proposedName == "" {
		return models.Account{}, false, apperr.New(apperr.ErrInvalidArgument, "Username is required for new accounts")
	}
	if err := ValidateDisplayName(proposedName); err != nil {
		return models.Account{}, false, err
	}

	if _, err := g.Accounts.FindByDisplayName(ctx, proposedName); err == nil {
		return models.Account{}, false, apperr.New(apperr.ErrConflict, "Username already taken")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.Account{}, false, err
	}

	account := models.Account{
		ID:           uuid.NewString(),
		CredentialID: verification.CredentialID,
		DisplayName:  proposedName,
		IsVerified:   true,
		CreatedAt:    g.now(),
	}
	if err := g.Accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.Account{}, false, apperr.Wrap(apperr.ErrConflict, "Username or credential already registered", err)
		}
		return models.Account{}, false, err
	}

	logger.Info("account created", slog.String("accountId", account.ID))
	return account, true, nil
}

// Rename changes an account's display name at most once per RenameCooldown.
func (g *Gate) Rename(ctx context.Context, accountID, newName string) (models.Account, error) {
	newName = strings.TrimSpace(newName)
	if err := ValidateDisplayName(newName); err != nil {
		return models.Account{}, err
	}

	account, err := g.account(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}

	now := g.now()
	if account.LastDisplayNameChange != nil && now.Sub(*account.LastDisplayNameChange) < RenameCooldown {
		return models.Account{}, cooldownError()
	}

	if taken, err := g.Accounts.FindByDisplayName(ctx, newName); err == nil && taken.ID != account.ID {
		return models.Account{}, apperr.New(apperr.ErrConflict, "Username already taken")
	} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return models.Account{}, err
	}

	if err := g.Accounts.Rename(ctx, account.ID, newName, now, now.Add(-RenameCooldown)); err != nil {
		switch {
		case errors.Is(err, repositories.ErrStaleState):
			return models.Account{}, cooldownError()
		case errors.Is(err, repositories.ErrConflict):
			return models.Account{}, apperr.Wrap(apperr.ErrConflict, "Username already taken", err)
		}
		return models.Account{}, err
	}

	account.DisplayName = newName
	account.LastDisplayNameChange = &now
	return account, nil
}

// Account loads an account by id.
func (g *Gate) Account(ctx context.Context, accountID string) (models.Account, error) {
	return g.account(ctx, accountID)
}

// AccountByCredential loads the account bound to a credential.
func (g *Gate) AccountByCredential(ctx context.Context, credentialID string) (models.Account, error) {
	account, err := g.Accounts.FindByCredential(ctx, credentialID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Account{}, apperr.Wrap(apperr.ErrNotFound, "User not found", err)
	}
	return account, err
}

// AccountByDisplayName loads an account by display name, ignoring case.
func (g *Gate) AccountByDisplayName(ctx context.Context, name string) (models.Account, error) {
	account, err := g.Accounts.FindByDisplayName(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Account{}, apperr.Wrap(apperr.ErrNotFound, "User not found", err)
	}
	return account, err
}

// ElevateToModerator grants the moderator flag.
func (g *Gate) ElevateToModerator(ctx context.Context, accountID string) (models.Account, error) {
	account, err := g.account(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	if err := g.Accounts.SetModerator(ctx, account.ID, true); err != nil {
		return models.Account{}, err
	}
	account.IsModerator = true
	logging.FromContext(ctx).Info("account elevated to moderator", slog.String("accountId", account.ID))
	return account, nil
}

// SetModeratorPassword stores a salted hash of a moderator's secondary password.
func (g *Gate) SetModeratorPassword(ctx context.Context, accountID, password string) error {
	if len(password) < MinModeratorPasswordLength {
		return apperr.New(apperr.ErrInvalidArgument, "Password must be at least 6 characters")
	}

	account, err := g.account(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsModerator {
		return apperr.New(apperr.ErrForbidden, "Moderator access required")
	}

	cost := g.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return apperr.Wrap(apperr.ErrInvalidArgument, "Password cannot be hashed", err)
	}

	return g.Accounts.SetModeratorPassword(ctx, account.ID, string(hashed))
}

// VerifyModeratorPassword reports whether password matches the stored hash.
func (g *Gate) VerifyModeratorPassword(ctx context.Context, accountID, password string) (bool, error) {
	account, err := g.account(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !account.IsModerator {
		return false, apperr.New(apperr.ErrForbidden, "Moderator access required")
	}
	if account.ModeratorPassword == "" {
		return false, apperr.New(apperr.ErrNotFound, "Moderator password not set")
	}
	return bcrypt.CompareHashAndPassword([]byte(account.ModeratorPassword), []byte(password)) == nil, nil
}

// ValidateDisplayName checks the display name alphabet and length.
func ValidateDisplayName(name string) error {
	if !displayNamePattern.MatchString(name) {
		return apperr.New(apperr.ErrInvalidArgument, "Username must be 3-32 characters of letters, digits, '_', '-' or '.'")
	}
	return nil
}

func (g *Gate) account(ctx context.Context, accountID string) (models.Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return models.Account{}, apperr.New(apperr.ErrInvalidArgument, "User ID is required")
	}
	account, err := g.Accounts.FindByID(ctx, accountID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Account{}, apperr.Wrap(apperr.ErrNotFound, "User not found", err)
	}
	return account, err
}

func (g *Gate) now() time.Time {
	if g.NowFunc != nil {
		return g.NowFunc()
	}
	return time.Now().UTC()
}

func cooldownError() error {
	return apperr.New(apperr.ErrRateLimited, "Username can only be changed once every 30 days")
}
