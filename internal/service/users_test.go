package service

// Тесты операций над профилем (internal/service/users.go).

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

func strptr(s string) *string { return &s }

func TestService_Profile(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByID(gomock.Any(), user.ID).
		Return(user, nil)

	got, err := s.Profile(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)

	missing := uuid.New()
	ms.EXPECT().
		UserByID(gomock.Any(), missing).
		Return(nil, storage.ErrNotFound)

	_, err = s.Profile(ctx, missing)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_UpdateProfile_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)
	updated := *user
	updated.Name = "Bob"

	ms.EXPECT().
		UpdateProfile(gomock.Any(), user.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, upd storage.ProfileUpdate) (*models.User, error) {
			// Имя нормализуется (TrimSpace) до похода в хранилище.
			require.NotNil(t, upd.Name)
			require.Equal(t, "Bob", *upd.Name)
			require.Nil(t, upd.AvatarURL)
			return &updated, nil
		})

	got, err := s.UpdateProfile(context.Background(), user.ID, storage.ProfileUpdate{Name: strptr("  Bob  ")})
	require.NoError(t, err)
	require.Equal(t, "Bob", got.Name)
}

func TestService_UpdateProfile_InvalidName(t *testing.T) {
	s, _, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	long := make([]rune, 101)
	for i := range long {
		long[i] = 'y'
	}

	_, err := s.UpdateProfile(context.Background(), uuid.New(), storage.ProfileUpdate{Name: strptr(string(long))})
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestService_ChangePassword_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)
	newPassword := "N3wPassword"

	ms.EXPECT().
		UserByID(gomock.Any(), user.ID).
		Return(user, nil)
	ms.EXPECT().
		UpdatePassword(gomock.Any(), user.ID, gomock.Any()).
		Return(nil)
	// Все сессии пользователя отзываются.
	ms.EXPECT().
		DeleteRefreshTokensByUser(gomock.Any(), user.ID).
		Return([]string{"h1", "h2"}, nil)

	require.NoError(t, s.ChangePassword(context.Background(), user.ID, testPassword, newPassword))
}

func TestService_ChangePassword_WrongCurrent(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByID(gomock.Any(), user.ID).
		Return(user, nil)

	err := s.ChangePassword(context.Background(), user.ID, "Wr0ngCurrent", "N3wPassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ChangePassword_WeakNew(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByID(gomock.Any(), user.ID).
		Return(user, nil)

	err := s.ChangePassword(context.Background(), user.ID, testPassword, "short")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestService_DeleteAccount_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	userID := uuid.New()

	// Хэши токенов собираются до удаления пользователя.
	gomock.InOrder(
		ms.EXPECT().
			DeleteRefreshTokensByUser(gomock.Any(), userID).
			Return([]string{"h1"}, nil),
		ms.EXPECT().
			DeleteUser(gomock.Any(), userID).
			Return(nil),
	)

	require.NoError(t, s.DeleteAccount(context.Background(), userID))
}

func TestService_DeleteAccount_NotFound(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	userID := uuid.New()

	ms.EXPECT().
		DeleteRefreshTokensByUser(gomock.Any(), userID).
		Return(nil, nil)
	ms.EXPECT().
		DeleteUser(gomock.Any(), userID).
		Return(storage.ErrNotFound)

	err := s.DeleteAccount(context.Background(), userID)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ListUsers(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	users := []models.User{*mustUser(t, "a@example.com", testPassword), *mustUser(t, "b@example.com", testPassword)}

	ms.EXPECT().
		ListUsers(gomock.Any()).
		Return(users, nil)

	got, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
}
