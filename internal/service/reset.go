package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-auth-service/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-service/internal/storage"
)

// ForgotPassword инициирует сброс пароля: выпускает одноразовый токен
// и сохраняет его хэш с ограниченным сроком действия.
//
// Для неизвестного email возвращается пустой токен БЕЗ ошибки — ответ
// наружу одинаков в обоих случаях, чтобы не раскрывать существование
// аккаунта. Возврат plaintext-токена наверх — упрощение вместо отправки
// письма; транспорт решает, что с ним делать.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	const op = "service.reset.ForgotPassword"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("reset_requested_unknown_email",
				slog.String("op", op),
				slog.String("email", redact.Email(normEmail)),
			)
			return "", nil
		}

		return "", storeFailure(ctx, op, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	plain := hex.EncodeToString(raw)

	expiresAt := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.storage.SetResetToken(ctx, user.ID, hashToken(plain), expiresAt); err != nil {
		return "", storeFailure(ctx, op, err)
	}

	lg.Info("reset_token_issued",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return plain, nil
}

// ResetPassword завершает сброс: по одноразовому токену устанавливает
// новый пароль и отзывает все refresh-токены пользователя.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "service.reset.ResetPassword"

	if resetToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidResetToken)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByResetToken(ctx, hashToken(resetToken), time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidResetToken)
		}

		return storeFailure(ctx, op, err)
	}

	hashedPassword, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// UpdatePassword попутно очищает reset-токен: он одноразовый.
	if err := s.storage.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		return storeFailure(ctx, op, err)
	}

	if err := s.RevokeAllTokens(ctx, user.ID); err != nil {
		return err
	}

	log.From(ctx).Info("password_reset_completed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return nil
}
