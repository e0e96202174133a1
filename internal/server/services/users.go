// Package services holds the application logic between the HTTP layer and the
// document store: operator accounts, mailbox accounts and groups, bulk
// verification and the authenticated mail proxy.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/storage"
)

const minPasswordLength = 6

// UserService manages operator accounts and instance settings.
type UserService struct {
	store *storage.Store
	log   logging.Logger
}

func NewUserService(store *storage.Store, log logging.Logger) *UserService {
	return &UserService{store: store, log: log.With("component", "users")}
}

// Login verifies the credentials and returns the matching user. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, username, password string) (*models.User, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}

	u := doc.UserByName(username)
	if u == nil || !cryptox.CheckPassword(password, u.PasswordHash) {
		return nil, common.ErrorUnauthorized
	}

	out := *u
	return &out, nil
}

// Register creates a regular user, honoring the allow_registration setting.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	var created models.User
	err := s.store.Mutate(func(doc *models.Document) error {
		if !doc.Settings.AllowRegistration {
			return fmt.Errorf("%w: registration is disabled", common.ErrorForbidden)
		}
		if doc.UserByName(username) != nil {
			return fmt.Errorf("%w: username %q", common.ErrorDuplicate, username)
		}
		created = models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: cryptox.HashPassword(password),
			Role:         models.RoleUser,
			CreatedAt:    time.Now().UTC(),
		}
		doc.Users = append(doc.Users, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user registered", "username", username)
	return &created, nil
}

// ChangePassword verifies the current password and replaces it, clearing any
// pending must-change flag.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}

	return s.store.Mutate(func(doc *models.Document) error {
		u := doc.FindUser(userID)
		if u == nil {
			return common.ErrorNotFound
		}
		if !cryptox.CheckPassword(oldPassword, u.PasswordHash) {
			return common.ErrorUnauthorized
		}
		u.PasswordHash = cryptox.HashPassword(newPassword)
		u.MustChangePassword = false
		return nil
	})
}

// EnsureDefaultAdmin seeds the administrator on first start. The seeded admin
// must change the password on first login. No-op when any user exists.
func (s *UserService) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	created := false
	err := s.store.Mutate(func(doc *models.Document) error {
		if len(doc.Users) > 0 {
			return nil
		}
		doc.Users = append(doc.Users, models.User{
			ID:                 uuid.NewString(),
			Username:           username,
			PasswordHash:       cryptox.HashPassword(password),
			Role:               models.RoleAdmin,
			MustChangePassword: true,
			CreatedAt:          time.Now().UTC(),
		})
		created = true
		return nil
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Warn(ctx, "default administrator created, change the password on first login", "username", username)
	}
	return nil
}

// GetUser returns the user by id.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	u := doc.FindUser(userID)
	if u == nil {
		return nil, common.ErrorNotFound
	}
	out := *u
	return &out, nil
}

// ListUsers returns all operator accounts. Admin only; enforced by the HTTP
// layer.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	doc, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	return doc.Users, nil
}

// CreateUser lets an administrator add a user with an explicit role.
func (s *UserService) CreateUser(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, role)
	}

	var created models.User
	err := s.store.Mutate(func(doc *models.Document) error {
		if doc.UserByName(username) != nil {
			return fmt.Errorf("%w: username %q", common.ErrorDuplicate, username)
		}
		created = models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: cryptox.HashPassword(password),
			Role:         role,
			CreatedAt:    time.Now().UTC(),
		}
		doc.Users = append(doc.Users, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteUser removes the user together with every account and group they own.
// The caller cannot delete themselves, and the last administrator cannot be
// removed.
func (s *UserService) DeleteUser(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return fmt.Errorf("%w: cannot delete own account", common.ErrorValidation)
	}

	return s.store.Mutate(func(doc *models.Document) error {
		target := doc.FindUser(userID)
		if target == nil {
			return common.ErrorNotFound
		}
		if target.Role == models.RoleAdmin && countAdmins(doc.Users) == 1 {
			return fmt.Errorf("%w: cannot delete the last administrator", common.ErrorValidation)
		}

		users := doc.Users[:0]
		for _, u := range doc.Users {
			if u.ID != userID {
				users = append(users, u)
			}
		}
		doc.Users = users

		accounts := doc.Accounts[:0]
		for _, a := range doc.Accounts {
			if a.OwnerID != userID {
				accounts = append(accounts, a)
			}
		}
		doc.Accounts = accounts

		groups := doc.Groups[:0]
		for _, g := range doc.Groups {
			if g.OwnerID != userID {
				groups = append(groups, g)
			}
		}
		doc.Groups = groups
		return nil
	})
}

// ResetUserPassword sets a new password for the user and forces a change on
// next login. Admin only.
func (s *UserService) ResetUserPassword(ctx context.Context, userID, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}
	return s.store.Mutate(func(doc *models.Document) error {
		u := doc.FindUser(userID)
		if u == nil {
			return common.ErrorNotFound
		}
		u.PasswordHash = cryptox.HashPassword(newPassword)
		u.MustChangePassword = true
		return nil
	})
}

// GetSettings returns the instance settings.
func (s *UserService) GetSettings(ctx context.Context) (models.Settings, error) {
	doc, err := s.store.Read()
	if err != nil {
		return models.Settings{}, err
	}
	return doc.Settings, nil
}

// UpdateSettings replaces the instance settings. Admin only.
func (s *UserService) UpdateSettings(ctx context.Context, settings models.Settings) error {
	return s.store.Mutate(func(doc *models.Document) error {
		doc.Settings = settings
		return nil
	})
}

func validateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", common.ErrorValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}
	return nil
}

func countAdmins(users []models.User) int {
	n := 0
	for _, u := range users {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n
}
