package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/cache"
	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// hashToken — детерминированный хэш plaintext-токена (sha256 → base64url);
// в БД и кэше токены живут только в таком виде.
func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// issueTokenPair выпускает новую пару access+refresh токенов
// и сохраняет хэш refresh-токена в хранилище.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const (
		op          = "service.token.issueTokenPair"
		maxAttempts = 3
	)

	lg := log.From(ctx)

	access, accessExpiresAt, err := s.codec.SignAccess(user)
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// jti в claims делает коллизию хэшей практически невозможной,
	// но повтор при ErrAlreadyExists оставлен как страховка.
	for attempt := 0; attempt < maxAttempts; attempt++ {
		refresh, refreshExpiresAt, err := s.codec.SignRefresh(user)
		if err != nil {
			lg.Error("refresh_token_sign_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		now := time.Now().UTC()
		hash := hashToken(refresh)
		record := &models.RefreshToken{
			TokenHash: hash,
			UserID:    user.ID,
			CreatedAt: now,
			ExpiresAt: refreshExpiresAt,
		}

		if err := s.storage.SaveRefreshToken(ctx, record); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}

			return nil, storeFailure(ctx, op, err)
		}

		if s.rcache != nil {
			entry := &cache.RefreshEntry{UserID: user.ID, ExpiresAt: refreshExpiresAt}
			if err := s.rcache.Set(ctx, hash, entry, time.Until(refreshExpiresAt)); err != nil {
				lg.Warn("refresh_cache_set_failed",
					slog.String("op", op),
					slog.String("err", err.Error()),
				)
			}
		}

		return &models.TokenPair{
			AccessToken:     access,
			RefreshToken:    refresh,
			AccessExpiresAt: accessExpiresAt,
		}, nil
	}

	lg.Error("refresh_collision_exceeded", slog.String("op", op))

	return nil, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// validateRefreshRecord проверяет, что запись refresh-токена существует
// и не просрочена. Сначала спрашиваем кэш, затем БД; просроченную строку
// удаляем сразу, не дожидаясь фоновой очистки.
func (s *Service) validateRefreshRecord(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "service.token.validateRefreshRecord"

	lg := log.From(ctx)
	hash := hashToken(plain)
	now := time.Now().UTC()

	if s.rcache != nil {
		entry, ok, err := s.rcache.Get(ctx, hash)
		if err != nil {
			lg.Warn("refresh_cache_get_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else if ok {
			if now.After(entry.ExpiresAt) {
				_ = s.rcache.Delete(ctx, hash)
				_ = s.storage.DeleteRefreshToken(ctx, hash)
				return nil, ErrTokenExpired
			}

			return &models.RefreshToken{
				TokenHash: hash,
				UserID:    entry.UserID,
				ExpiresAt: entry.ExpiresAt,
			}, nil
		}
	}

	record, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found", slog.String("op", op))
			return nil, ErrInvalidToken
		}

		return nil, storeFailure(ctx, op, err)
	}

	if now.After(record.ExpiresAt) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("user_id", record.UserID.String()),
		)
		_ = s.storage.DeleteRefreshToken(ctx, hash)
		return nil, ErrTokenExpired
	}

	if s.rcache != nil {
		entry := &cache.RefreshEntry{UserID: record.UserID, ExpiresAt: record.ExpiresAt}
		_ = s.rcache.Set(ctx, hash, entry, time.Until(record.ExpiresAt))
	}

	return record, nil
}
