package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
	"github.com/pribylovaa/go-auth-service/internal/storage"
	"github.com/pribylovaa/go-auth-service/internal/tokens"
	"github.com/pribylovaa/go-auth-service/internal/transport/http/httperr"
)

// AuthService — контракт сервисного слоя, который нужен хендлерам.
// Реализуется *service.Service; в тестах подменяется фейком.
type AuthService interface {
	RegisterUser(ctx context.Context, email, password, name string) (*models.TokenPair, *models.User, error)
	LoginUser(ctx context.Context, email, password string) (*models.TokenPair, *models.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, time.Time, error)
	RevokeToken(ctx context.Context, refreshToken string) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd storage.ProfileUpdate) (*models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
	ListUsers(ctx context.Context) ([]models.User, error)
	ValidateAccess(accessToken string) (*tokens.Claims, error)
}

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	Svc AuthService
}

func New(svc AuthService) *Handlers {
	return &Handlers{Svc: svc}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через httperr.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return httperr.ErrBadRequest
	}
	return nil
}

// userResponse — представление пользователя наружу.
// Хэш пароля и reset-токен наружу не отдаются никогда.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func userToResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
