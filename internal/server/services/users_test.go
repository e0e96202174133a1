package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/storage"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newUserService(t *testing.T) (*UserService, *storage.Store) {
	t.Helper()
	store := storage.New(filepath.Join(t.TempDir(), "mailvault.json"))
	require.NoError(t, store.EnsureInitialized())
	return NewUserService(store, testLogger()), store
}

func TestRegisterAndLogin(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotEqual(t, "secret-1", u.PasswordHash, "password must be stored hashed")

	got, err := s.Login(ctx, "alice", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = s.Login(ctx, "nobody", "secret-1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "secret-1")
	require.NoError(t, err)

	_, err = s.Register(ctx, "alice", "secret-2")
	assert.ErrorIs(t, err, common.ErrorDuplicate)
}

func TestRegister_DisabledBySettings(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateSettings(ctx, models.Settings{AllowRegistration: false}))

	_, err := s.Register(ctx, "alice", "secret-1")
	assert.ErrorIs(t, err, common.ErrorForbidden)
}

func TestRegister_Validation(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "", "secret-1")
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = s.Register(ctx, "alice", "short")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestEnsureDefaultAdmin(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDefaultAdmin(ctx, "admin", "admin123"))

	admin, err := s.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, admin.MustChangePassword)

	// Second call is a no-op even with different credentials.
	require.NoError(t, s.EnsureDefaultAdmin(ctx, "other", "otherpass"))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestEnsureDefaultAdmin_SkippedWhenUsersExist(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "secret-1")
	require.NoError(t, err)

	require.NoError(t, s.EnsureDefaultAdmin(ctx, "admin", "admin123"))
	_, err = s.Login(ctx, "admin", "admin123")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestChangePassword(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDefaultAdmin(ctx, "admin", "admin123"))
	admin, err := s.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	err = s.ChangePassword(ctx, admin.ID, "wrong", "newsecret")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	require.NoError(t, s.ChangePassword(ctx, admin.ID, "admin123", "newsecret"))

	got, err := s.Login(ctx, "admin", "newsecret")
	require.NoError(t, err)
	assert.False(t, got.MustChangePassword, "flag clears after the forced change")

	_, err = s.Login(ctx, "admin", "admin123")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestDeleteUser_CascadesOwnedData(t *testing.T) {
	us, store := newUserService(t)
	ctx := context.Background()

	require.NoError(t, us.EnsureDefaultAdmin(ctx, "admin", "admin123"))
	admin, err := us.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	alice, err := us.Register(ctx, "alice", "secret-1")
	require.NoError(t, err)

	as := newAccountServiceWith(t, store, "")
	g, err := as.CreateGroup(ctx, alice.ID, "work")
	require.NoError(t, err)
	_, err = as.Create(ctx, alice.ID, AccountInput{
		Email: "a@example.com", RefreshToken: "rt", ClientID: "cid", GroupID: &g.ID,
	})
	require.NoError(t, err)

	require.NoError(t, us.DeleteUser(ctx, admin.ID, alice.ID))

	doc, err := store.Read()
	require.NoError(t, err)
	assert.Len(t, doc.Users, 1)
	assert.Empty(t, doc.Accounts, "owned accounts go with the user")
	assert.Empty(t, doc.Groups, "owned groups go with the user")
}

func TestDeleteUser_Guards(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDefaultAdmin(ctx, "admin", "admin123"))
	admin, err := s.Login(ctx, "admin", "admin123")
	require.NoError(t, err)

	err = s.DeleteUser(ctx, admin.ID, admin.ID)
	assert.ErrorIs(t, err, common.ErrorValidation, "self-delete is rejected")

	second, err := s.CreateUser(ctx, "root2", "secret-1", models.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, s.DeleteUser(ctx, second.ID, admin.ID))

	// root2 is now the last admin.
	third, err := s.CreateUser(ctx, "bob", "secret-1", models.RoleUser)
	require.NoError(t, err)
	err = s.DeleteUser(ctx, third.ID, second.ID)
	assert.ErrorIs(t, err, common.ErrorValidation, "last admin is protected")
}

func TestResetUserPassword(t *testing.T) {
	s, _ := newUserService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "secret-1")
	require.NoError(t, err)

	require.NoError(t, s.ResetUserPassword(ctx, u.ID, "resetpw1"))

	got, err := s.Login(ctx, "alice", "resetpw1")
	require.NoError(t, err)
	assert.True(t, got.MustChangePassword)
}
