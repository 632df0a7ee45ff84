package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей. Модель плоская: одна строка-роль на пользователя,
// без иерархии и наследования.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User - модель пользователя в системе.
//
// ResetTokenHash/ResetTokenExpiresAt заполняются только на время действия
// запроса на сброс пароля; успешный сброс очищает оба поля.
type User struct {
	ID                  uuid.UUID
	Email               string
	PasswordHash        string
	Name                string
	AvatarURL           string
	Role                string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
