package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// Profile возвращает профиль пользователя по ID.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.users.Profile"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, storeFailure(ctx, op, err)
	}

	return user, nil
}

// UpdateProfile применяет частичное обновление профиля (nil-поля не трогаем).
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd storage.ProfileUpdate) (*models.User, error) {
	const op = "service.users.UpdateProfile"

	if upd.Name != nil {
		name, err := validateName(*upd.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		upd.Name = &name
	}

	user, err := s.storage.UpdateProfile(ctx, userID, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, storeFailure(ctx, op, err)
	}

	return user, nil
}

// ChangePassword меняет пароль при предъявлении текущего и отзывает
// все refresh-токены пользователя.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	const op = "service.users.ChangePassword"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return storeFailure(ctx, op, err)
	}

	if !checkPassword(user.PasswordHash, currentPassword) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		return storeFailure(ctx, op, err)
	}

	if err := s.RevokeAllTokens(ctx, userID); err != nil {
		return err
	}

	log.From(ctx).Info("password_changed",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// DeleteAccount удаляет аккаунт пользователя вместе со всеми его
// refresh-токенами (строки в БД — каскадом, кэш — явно).
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	const op = "service.users.DeleteAccount"

	// Хэши нужны до удаления пользователя: каскад в БД кэш не чистит.
	hashes, err := s.storage.DeleteRefreshTokensByUser(ctx, userID)
	if err != nil {
		return storeFailure(ctx, op, err)
	}

	// Кэш инвалидируется до удаления самого пользователя: при ошибке
	// операция прерывается и безопасно повторяется, а записи в кэше
	// не переживают отозванные строки.
	if s.rcache != nil && len(hashes) > 0 {
		if err := s.rcache.Delete(ctx, hashes...); err != nil {
			return storeFailure(ctx, op, err)
		}
	}

	if err := s.storage.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return storeFailure(ctx, op, err)
	}

	log.From(ctx).Info("account_deleted",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// ListUsers возвращает всех пользователей (админская операция;
// авторизацию роли выполняет транспорт).
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "service.users.ListUsers"

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, storeFailure(ctx, op, err)
	}

	return users, nil
}
