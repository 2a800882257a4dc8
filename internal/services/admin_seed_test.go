package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/models"
)

func TestSeedAdminCreatesAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, created, err := f.auth.SeedAdmin(ctx, RegisterInput{
		Email:    "Root@Example.com",
		Username: "root",
		Password: "Sup3r-secret",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "root@example.com", user.Email)
	require.NotNil(t, user.Role)
	assert.Equal(t, models.RoleAdmin, user.Role.Name)

	res, err := f.auth.Login(ctx, "root@example.com", "Sup3r-secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role.Name)
}

func TestSeedAdminPromotesExisting(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "alice", "Passw0rd!")

	user, created, err := f.auth.SeedAdmin(ctx, RegisterInput{Email: "alice@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleAdmin, user.Role.Name)

	// running it again is a no-op
	_, created, err = f.auth.SeedAdmin(ctx, RegisterInput{Email: "alice@example.com"})
	require.NoError(t, err)
	assert.False(t, created)

	res, err := f.auth.Login(ctx, "alice@example.com", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role.Name)
}

func TestSeedAdminValidatesNewAccount(t *testing.T) {
	f := newAuthFixture(t)

	_, _, err := f.auth.SeedAdmin(context.Background(), RegisterInput{Email: "new@example.com"})
	requireKind(t, err, apperrors.KindValidation, MsgValidationFailed)
}
