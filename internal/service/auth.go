package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
	"github.com/pribylovaa/go-auth-service/internal/tokens"
)

// RegisterUser регистрирует нового пользователя и выпускает пару токенов.
func (s *Service) RegisterUser(ctx context.Context, email, password, name string) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.RegisterUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(password); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	name, err = validateName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, storeFailure(ctx, op, err)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		PasswordHash: hashedPassword,
		Name:         name,
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, nil, storeFailure(ctx, op, err)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// LoginUser выполняет вход по email+пароль.
// Неизвестный email и неверный пароль дают одинаковую ошибку.
func (s *Service) LoginUser(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error) {
	const op = "service.auth.LoginUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if len(password) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, nil, storeFailure(ctx, op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// RefreshToken выпускает новый access-токен по refresh-токену.
// Refresh-токен НЕ ротируется: одна и та же запись переиспользуется до
// собственного истечения или явного logout (осознанное упрощение;
// ротация на каждый refresh — более строгая альтернатива).
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	const op = "service.auth.RefreshToken"

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			// Просроченная запись в БД больше не нужна.
			_ = s.storage.DeleteRefreshToken(ctx, hashToken(refreshToken))
			return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if _, err := s.validateRefreshRecord(ctx, refreshToken); err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	// Access-токен всегда собирается из актуального состояния пользователя,
	// а не из claims старого токена: смена роли/email подхватится на refresh.
	user, err := s.storage.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return "", time.Time{}, storeFailure(ctx, op, err)
	}

	access, expiresAt, err := s.codec.SignAccess(user)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return access, expiresAt, nil
}

// RevokeToken отзывает refresh-токен (logout).
// Идемпотентна: отзыв неизвестного токена — не ошибка.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	const op = "service.auth.RevokeToken"

	hash := hashToken(refreshToken)

	// Сначала кэш, затем БД. Если кэш не удаётся инвалидировать, отзыв
	// прерывается целиком: иначе запись в кэше пережила бы удалённую строку
	// и продолжала бы обмениваться на access-токены до конца своего TTL.
	if s.rcache != nil {
		if err := s.rcache.Delete(ctx, hash); err != nil {
			return storeFailure(ctx, op, err)
		}
	}

	if err := s.storage.DeleteRefreshToken(ctx, hash); err != nil {
		return storeFailure(ctx, op, err)
	}

	return nil
}

// RevokeAllTokens отзывает все refresh-токены пользователя.
// Используется при смене пароля и удалении аккаунта, чтобы принудить
// к повторной аутентификации на всех устройствах.
func (s *Service) RevokeAllTokens(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.RevokeAllTokens"

	hashes, err := s.storage.DeleteRefreshTokensByUser(ctx, userID)
	if err != nil {
		return storeFailure(ctx, op, err)
	}

	// Хэши известны только из удалённых строк, поэтому кэш чистится после
	// БД; но его ошибка не проглатывается — пока кэш не инвалидирован,
	// отзыв не считается завершённым.
	if s.rcache != nil && len(hashes) > 0 {
		if err := s.rcache.Delete(ctx, hashes...); err != nil {
			return storeFailure(ctx, op, err)
		}
	}

	return nil
}

// ValidateAccess проверяет access-токен и возвращает claims.
func (s *Service) ValidateAccess(accessToken string) (*tokens.Claims, error) {
	const op = "service.auth.ValidateAccess"

	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем (bcrypt, постоянное время).
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю.
// Политика по умолчанию: длина 8..128, хотя бы одна строчная, заглавная и цифра.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if n := len([]rune(pw)); n < 8 || n > 128 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !(hasLower && hasUpper && hasDigit) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}

// validateName нормализует имя; пустое имя допустимо.
func validateName(raw string) (string, error) {
	const op = "service.auth.validateName"

	name := strings.TrimSpace(raw)
	if len([]rune(name)) > 100 {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidName)
	}

	return name, nil
}
