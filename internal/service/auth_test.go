package service

// Тесты сервисного слоя (internal/service/auth.go, token.go).
//
//  Проверяем:
//  - валидацию входов (email/пароль/имя);
//  - маппинг ошибок storage -> service;
//  - одинаковую ошибку для неизвестного email и неверного пароля;
//  - refresh без ротации: запись refresh-токена не пересоздаётся;
//  - идемпотентность отзыва токенов.
//
// Подготовка окружения:
//   # 1) Сгенерировать моки интерфейса хранилища:
//   mockgen -source=./internal/storage/storage.go -destination=./mocks/storage.go -package=mocks
//
//   # 2) Запустить тесты:
//   go test ./internal/service -v -race -count=1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-service/internal/cache"
	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
	"github.com/pribylovaa/go-auth-service/internal/tokens"
	"github.com/pribylovaa/go-auth-service/mocks"
)

const (
	testPassword = "Str0ngPass"
	testEmail    = "user@example.com"
)

// newServiceWithMocks — поднимает сервис с моками стораджа и реальным кодеком.
func newServiceWithMocks(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller, *tokens.Codec) {
	t.Helper()

	ctrl := gomock.NewController(t)
	ms := mocks.NewMockStorage(ctrl)

	codec := tokens.New(tokens.Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "auth-service",
	})

	cfg := config.AuthConfig{
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ResetTokenTTL:   time.Hour,
		Issuer:          "auth-service",
	}

	s := New(ms, codec, cfg)

	return s, ms, ctrl, codec
}

// newServiceWithCache — то же, что newServiceWithMocks, плюс реальный
// Redis-кэш refresh-токенов поверх miniredis.
func newServiceWithCache(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller, *miniredis.Miniredis) {
	t.Helper()

	s, ms, ctrl, _ := newServiceWithMocks(t)

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	s.SetRefreshCache(rc)

	return s, ms, ctrl, mr
}

// mustUser — хелпер для сборки пользователя с захэшированным паролем.
func mustUser(t *testing.T, email, password string) *models.User {
	t.Helper()

	hash, err := hashPassword(password)
	require.NoError(t, err)

	now := time.Now().UTC()

	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestService_RegisterUser_Validation(t *testing.T) {
	s, _, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ctx := context.Background()

	// Некорректный email.
	_, _, err := s.RegisterUser(ctx, "not-an-email", testPassword, "")
	require.ErrorIs(t, err, ErrInvalidEmail)

	// Пустой пароль.
	_, _, err = s.RegisterUser(ctx, testEmail, "", "")
	require.ErrorIs(t, err, ErrEmptyPassword)

	// Короткий пароль.
	_, _, err = s.RegisterUser(ctx, testEmail, "Ab1", "")
	require.ErrorIs(t, err, ErrWeakPassword)

	// Нет заглавной буквы.
	_, _, err = s.RegisterUser(ctx, testEmail, "weakpass123", "")
	require.ErrorIs(t, err, ErrWeakPassword)

	// Слишком длинное имя.
	longName := make([]rune, 101)
	for i := range longName {
		longName[i] = 'x'
	}
	_, _, err = s.RegisterUser(ctx, testEmail, testPassword, string(longName))
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestService_RegisterUser_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ctx := context.Background()

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(nil, storage.ErrNotFound)
	ms.EXPECT().
		SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			require.Equal(t, testEmail, u.Email)
			require.Equal(t, models.RoleUser, u.Role)
			require.NotEqual(t, testPassword, u.PasswordHash)
			return nil
		})
	ms.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(nil)

	pair, user, err := s.RegisterUser(ctx, "User@Example.com", testPassword, "  Alice  ")
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Alice", user.Name)
	// email нормализуется к нижнему регистру.
	require.Equal(t, testEmail, user.Email)
}

func TestService_RegisterUser_EmailTaken(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	existing := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(existing, nil)

	_, _, err := s.RegisterUser(context.Background(), testEmail, testPassword, "")
	require.ErrorIs(t, err, ErrEmailTaken)
}

// Гонка на уникальном индексе: между проверкой и вставкой кто-то занял email.
func TestService_RegisterUser_RaceOnUniqueIndex(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(nil, storage.ErrNotFound)
	ms.EXPECT().
		SaveUser(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists)

	_, _, err := s.RegisterUser(context.Background(), testEmail, testPassword, "")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestService_RegisterUser_StoreUnavailable(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(nil, errors.New("connection refused"))

	_, _, err := s.RegisterUser(context.Background(), testEmail, testPassword, "")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_LoginUser_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(user, nil)
	ms.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(nil)

	pair, got, err := s.LoginUser(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Equal(t, user.ID, got.ID)
}

// Неизвестный email и неверный пароль обязаны давать одну и ту же ошибку —
// иначе по ответу можно перебирать зарегистрированные адреса.
func TestService_LoginUser_IndistinguishableFailures(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), "unknown@example.com").
		Return(nil, storage.ErrNotFound)
	_, _, errUnknown := s.LoginUser(ctx, "unknown@example.com", testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(user, nil)
	_, _, errWrongPass := s.LoginUser(ctx, testEmail, "Wr0ngPassword")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrongPass, ErrInvalidCredentials)
}

func TestService_RefreshToken_OK_NoRotation(t *testing.T) {
	s, ms, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	refresh, refreshExpiresAt, err := codec.SignRefresh(user)
	require.NoError(t, err)

	record := &models.RefreshToken{
		TokenHash: hashToken(refresh),
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: refreshExpiresAt,
	}

	// SaveRefreshToken НЕ ожидается: refresh-токен не ротируется.
	ms.EXPECT().
		RefreshTokenByHash(gomock.Any(), record.TokenHash).
		Return(record, nil)
	ms.EXPECT().
		UserByID(gomock.Any(), user.ID).
		Return(user, nil)

	access, expiresAt, err := s.RefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.True(t, expiresAt.After(time.Now()))

	claims, err := codec.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
}

func TestService_RefreshToken_UnknownRecord(t *testing.T) {
	s, ms, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	refresh, _, err := codec.SignRefresh(user)
	require.NoError(t, err)

	// JWT валиден, но записи в хранилище нет (например, после logout).
	ms.EXPECT().
		RefreshTokenByHash(gomock.Any(), hashToken(refresh)).
		Return(nil, storage.ErrNotFound)

	_, _, err = s.RefreshToken(context.Background(), refresh)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RefreshToken_ExpiredJWT_DeletesRecord(t *testing.T) {
	s, ms, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	// Подписываем токен "в прошлом", чтобы он истёк к моменту проверки.
	past := time.Now().Add(-30 * 24 * time.Hour)
	codec.WithNow(func() time.Time { return past })
	refresh, _, err := codec.SignRefresh(user)
	require.NoError(t, err)
	codec.WithNow(time.Now)

	ms.EXPECT().
		DeleteRefreshToken(gomock.Any(), hashToken(refresh)).
		Return(nil)

	_, _, err = s.RefreshToken(context.Background(), refresh)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestService_RefreshToken_Garbage(t *testing.T) {
	s, _, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	_, _, err := s.RefreshToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Запись в БД просрочена, хотя сам JWT ещё валиден — строка удаляется,
// вызывающий получает ErrTokenExpired.
func TestService_RefreshToken_StaleRecord(t *testing.T) {
	s, ms, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	refresh, _, err := codec.SignRefresh(user)
	require.NoError(t, err)

	record := &models.RefreshToken{
		TokenHash: hashToken(refresh),
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}

	ms.EXPECT().
		RefreshTokenByHash(gomock.Any(), record.TokenHash).
		Return(record, nil)
	ms.EXPECT().
		DeleteRefreshToken(gomock.Any(), record.TokenHash).
		Return(nil)

	_, _, err = s.RefreshToken(context.Background(), refresh)
	require.ErrorIs(t, err, ErrTokenExpired)
}

// Отзыв неизвестного токена — не ошибка: DELETE без строки идемпотентен.
func TestService_RevokeToken_Idempotent(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	ms.EXPECT().
		DeleteRefreshToken(gomock.Any(), gomock.Any()).
		Return(nil).
		Times(2)

	require.NoError(t, s.RevokeToken(context.Background(), "whatever"))
	require.NoError(t, s.RevokeToken(context.Background(), "whatever"))
}

func TestService_RevokeAllTokens_OK(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	userID := uuid.New()

	ms.EXPECT().
		DeleteRefreshTokensByUser(gomock.Any(), userID).
		Return([]string{"h1", "h2"}, nil)

	require.NoError(t, s.RevokeAllTokens(context.Background(), userID))
}

// Исчерпание попыток при коллизии хэша refresh-токена.
func TestService_IssueTokenPair_CollisionExhausted(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists).
		Times(3)

	_, err := s.issueTokenPair(context.Background(), user)
	require.ErrorIs(t, err, ErrRefreshTokenCollision)
}

func TestService_ValidateAccess(t *testing.T) {
	s, _, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	access, _, err := codec.SignAccess(user)
	require.NoError(t, err)

	claims, err := s.ValidateAccess(access)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, user.Email, claims.Email)
	require.Equal(t, models.RoleUser, claims.Role)

	// Refresh-токен не принимается как access: другой секрет подписи.
	refresh, _, err := codec.SignRefresh(user)
	require.NoError(t, err)
	_, err = s.ValidateAccess(refresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ValidateAccess("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Отзыв обязан инвалидировать и кэш: после logout тот же refresh-токен
// больше не обменивается на access даже через быстрый путь кэша.
func TestService_RevokeToken_ThenRefresh_WithCache(t *testing.T) {
	s, ms, ctrl, _ := newServiceWithCache(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(user, nil)
	ms.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(nil)

	pair, _, err := s.LoginUser(ctx, testEmail, testPassword)
	require.NoError(t, err)

	hash := hashToken(pair.RefreshToken)

	ms.EXPECT().
		DeleteRefreshToken(gomock.Any(), hash).
		Return(nil)
	require.NoError(t, s.RevokeToken(ctx, pair.RefreshToken))

	// Кэш пуст, поэтому идёт поход в БД — и там строки тоже нет.
	ms.EXPECT().
		RefreshTokenByHash(gomock.Any(), hash).
		Return(nil, storage.ErrNotFound)

	_, _, err = s.RefreshToken(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Недоступный кэш при отзыве: операция прерывается ДО удаления строки из БД
// (ошибка не проглатывается), а после восстановления кэша отзыв доводится
// до конца и токен перестаёт обмениваться.
func TestService_RevokeToken_CacheUnavailable(t *testing.T) {
	s, ms, ctrl, mr := newServiceWithCache(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := mustUser(t, testEmail, testPassword)

	ms.EXPECT().
		UserByEmail(gomock.Any(), testEmail).
		Return(user, nil)
	ms.EXPECT().
		SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(nil)

	pair, _, err := s.LoginUser(ctx, testEmail, testPassword)
	require.NoError(t, err)

	hash := hashToken(pair.RefreshToken)

	// DeleteRefreshToken не ожидается: до БД дело дойти не должно.
	mr.SetError("connection refused")
	err = s.RevokeToken(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	mr.SetError("")
	ms.EXPECT().
		DeleteRefreshToken(gomock.Any(), hash).
		Return(nil)
	require.NoError(t, s.RevokeToken(ctx, pair.RefreshToken))

	ms.EXPECT().
		RefreshTokenByHash(gomock.Any(), hash).
		Return(nil, storage.ErrNotFound)

	_, _, err = s.RefreshToken(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RevokeAllTokens_CacheUnavailable(t *testing.T) {
	s, ms, ctrl, mr := newServiceWithCache(t)
	defer ctrl.Finish()

	userID := uuid.New()

	ms.EXPECT().
		DeleteRefreshTokensByUser(gomock.Any(), userID).
		Return([]string{"h1", "h2"}, nil)

	mr.SetError("connection refused")
	err := s.RevokeAllTokens(context.Background(), userID)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_ValidateAccess_Expired(t *testing.T) {
	s, _, ctrl, codec := newServiceWithMocks(t)
	defer ctrl.Finish()

	user := mustUser(t, testEmail, testPassword)

	past := time.Now().Add(-24 * time.Hour)
	codec.WithNow(func() time.Time { return past })
	access, _, err := codec.SignAccess(user)
	require.NoError(t, err)
	codec.WithNow(time.Now)

	_, err = s.ValidateAccess(access)
	require.ErrorIs(t, err, ErrTokenExpired)
}
