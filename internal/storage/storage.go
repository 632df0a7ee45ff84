package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/refresh-token).
	ErrAlreadyExists = errors.New("already exists")
)

// ProfileUpdate — частичное обновление профиля: nil-поле не меняется.
type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
}

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ListUsers возвращает всех пользователей (админский список).
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateProfile применяет частичное обновление и возвращает свежую запись.
	UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*models.User, error)
	// UpdatePassword перезаписывает хэш пароля и очищает reset-токен.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// SetResetToken сохраняет хэш одноразового токена сброса пароля и срок его действия.
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	// UserByResetToken находит пользователя по непросроченному reset-токену.
	UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	// DeleteUser удаляет пользователя (refresh-токены каскадом).
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
// Отзыв токена — удаление строки; операции удаления идемпотентны.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-токен в БД.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// DeleteRefreshToken удаляет токен по хэшу; отсутствие строки — не ошибка.
	DeleteRefreshToken(ctx context.Context, hash string) error
	// DeleteRefreshTokensByUser удаляет все токены пользователя и
	// возвращает хэши удалённых строк (для инвалидации кэша).
	DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	// DeleteExpiredRefreshTokens удаляет все просроченные токены.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	Close()
}
