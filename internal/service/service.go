// service содержит бизнес-логику auth-сервиса:
// регистрацию/аутентификацию пользователей, выпуск/проверку токенов,
// восстановление пароля и операции над профилем — через интерфейсы
// из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданное хранилище (storage.Storage) потокобезопасно.
//   - Ошибки возвращаются типизированными и далее маппятся
//     транспортом на HTTP-статусы (см. комментарии к переменным ошибок ниже).
//   - Недоступность хранилища никогда не проглатывается: такие ошибки
//     оборачиваются в ErrStoreUnavailable и доходят до транспорта как 503.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/go-auth-service/internal/cache"
	"github.com/pribylovaa/go-auth-service/internal/config"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/storage"
	"github.com/pribylovaa/go-auth-service/internal/tokens"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Одна и та же ошибка для обоих случаев — защита от перебора email.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в хранилище. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrEmailTaken — e-mail уже занят другим пользователем. Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный refresh-токен
	// (редкий случай коллизий при сохранении хэша в БД). Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности. Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrInvalidName — имя пользователя не проходит валидацию. Транспорт: HTTP 400.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidResetToken — токен сброса пароля неизвестен, просрочен
	// или уже использован. Транспорт: HTTP 400.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")

	// ErrUserNotFound — пользователь не найден. Транспорт: HTTP 404.
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable — хранилище недоступно; запрос не может быть обслужен.
	// Фатальная ошибка уровня запроса, ретраев в ядре нет. Транспорт: HTTP 503.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage storage.Storage
	codec   *tokens.Codec
	cfg     config.AuthConfig
	rcache  cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, codec *tokens.Codec, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		codec:   codec,
		cfg:     cfg,
	}
}

// SetRefreshCache устанавливает кэш refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

// storeFailure классифицирует ошибку хранилища: отмену/дедлайн контекста
// пробрасываем как есть, остальное считаем недоступностью стора.
func storeFailure(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Error("storage_unavailable",
		slog.String("op", op),
		slog.String("err", err.Error()),
	)

	return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
}
