// tokens реализует кодек access/refresh токенов: подпись, разбор и
// валидацию JWT (HS256) без каких-либо побочных эффектов.
//
// Основные аспекты:
//   - access и refresh подписываются РАЗНЫМИ секретами: утечка ключа
//     подписи access-токенов не позволяет подделать refresh-токены;
//   - ошибка валидации всегда типизирована (ErrMalformed / ErrExpired /
//     ErrBadSignature), чтобы вызывающий код ветвился по причине;
//   - истёкший, но корректно подписанный токен возвращает ErrExpired,
//     а не ErrBadSignature;
//   - Codec не хранит изменяемого состояния и безопасен для
//     конкурентного использования.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-service/internal/models"
)

var (
	// ErrMalformed — токен не разбирается как JWT или содержит некорректные claims.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired — подпись корректна, но срок действия истёк.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature — подпись не сходится (чужой секрет или подмена).
	ErrBadSignature = errors.New("token signature invalid")
)

// Claims — полезная нагрузка обоих видов токенов.
type Claims struct {
	UserID    uuid.UUID
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config — параметры выпуска токенов.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Codec подписывает и валидирует пары токенов.
type Codec struct {
	cfg Config
	now func() time.Time
}

// New создаёт кодек; now переопределяется в тестах через WithNow.
func New(cfg Config) *Codec {
	return &Codec{cfg: cfg, now: time.Now}
}

// WithNow подменяет источник времени (для тестов).
func (c *Codec) WithNow(now func() time.Time) *Codec {
	c.now = now
	return c
}

type jwtClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignAccess выпускает access-токен для пользователя.
func (c *Codec) SignAccess(user *models.User) (string, time.Time, error) {
	return c.sign(user, []byte(c.cfg.AccessSecret), c.cfg.AccessTTL)
}

// SignRefresh выпускает refresh-токен для пользователя.
// В claims добавляется jti, чтобы два токена одного пользователя,
// выпущенные в одну секунду, не совпадали байт в байт.
func (c *Codec) SignRefresh(user *models.User) (string, time.Time, error) {
	return c.sign(user, []byte(c.cfg.RefreshSecret), c.cfg.RefreshTTL)
}

func (c *Codec) sign(user *models.User, secret []byte, ttl time.Duration) (string, time.Time, error) {
	const op = "tokens.sign"

	now := c.now().UTC()
	expiresAt := now.Add(ttl)

	claims := jwtClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, expiresAt, nil
}

// VerifyAccess валидирует access-токен и возвращает claims.
func (c *Codec) VerifyAccess(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, []byte(c.cfg.AccessSecret))
}

// VerifyRefresh валидирует refresh-токен и возвращает claims.
func (c *Codec) VerifyRefresh(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, []byte(c.cfg.RefreshSecret))
}

func (c *Codec) verify(tokenStr string, secret []byte) (*Claims, error) {
	const op = "tokens.verify"

	token, err := jwt.ParseWithClaims(tokenStr, &jwtClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrBadSignature)
			}

			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)

	if err != nil {
		// Порядок важен: истечение проверяем раньше подписи, чтобы
		// просроченный валидный токен не маскировался под подделку.
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%s: %w", op, ErrBadSignature)
		default:
			return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
		}
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformed)
	}

	out := &Claims{
		UserID: uid,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	return out, nil
}
