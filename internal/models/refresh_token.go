package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись refresh-токена в хранилище.
//
// В БД хранится только хэш значения токена (sha256 → base64url);
// запись действительна, пока now < ExpiresAt и строка существует.
// Отзыв — это удаление строки, отдельного флага "revoked" нет.
type RefreshToken struct {
	// TokenHash — sha256-хэш plaintext-значения (уникальный ключ).
	TokenHash string
	// UserID — владелец токена; у одного пользователя может быть
	// несколько записей (мультиустройственные сессии).
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}
