// authclient — Go-клиент auth-сервиса с автоматическим обновлением
// access-токена.
//
// Ядро пакета — диспетчер исходящих запросов: каждый вызов несёт текущий
// access-токен; на 401 ровно ОДИН вызов инициирует refresh, остальные
// конкурентные вызовы встают в очередь и возобновляются с новым токеном.
// Каждый вызов ретраится не более одного раза; повторный 401 после ретрая
// отдаётся вызывающему как терминальная ошибка.
//
// Инварианты:
//   - одновременно выполняется не более одного refresh (single-flight);
//   - очередь ожидающих возобновляется в порядке постановки, исход
//     одинаков для всех (нет частичного успеха);
//   - неудачный refresh сбрасывает локальную сессию и вызывает
//     teardown-хук — клиент никогда не продолжает работать с токеном,
//     который не смог обновить.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const refreshPath = "/auth/refresh"

var (
	// ErrNoSession — нет refresh-токена: клиент никогда не логинился
	// или сессия уже сброшена.
	ErrNoSession = errors.New("authclient: no active session")

	// ErrSessionExpired — refresh не удался; локальная сессия сброшена,
	// требуется полный повторный вход.
	ErrSessionExpired = errors.New("authclient: session expired")
)

// APIError — ошибка уровня API: HTTP-статус и машиночитаемый код
// из унифицированного тела ошибки сервиса.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsAuthFailure сообщает, является ли ошибка отказом авторизации (401).
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// waiter — приостановленный вызов, ожидающий исхода чужого refresh.
// Канал буферизован, чтобы развязка очереди не блокировалась на
// вызывающих, которые уже ушли по отмене контекста.
type waiter struct {
	ch chan waitResult
}

type waitResult struct {
	access string
	err    error
}

// Client — HTTP-клиент auth-сервиса с диспетчером токенов.
// Безопасен для конкурентного использования из разных горутин.
type Client struct {
	httpc   *http.Client
	baseURL string

	// Гейт single-flight refresh: всё изменяемое состояние сессии
	// мутируется только под mu.
	mu         sync.Mutex
	access     string
	refresh    string
	refreshing bool
	waiters    []*waiter

	onSessionExpired func()
}

// Option настраивает Client при создании.
type Option func(*Client)

// WithHTTPClient подменяет транспорт (по умолчанию http.Client с таймаутом 30s).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithSessionExpiredHook регистрирует teardown-хук: вызывается после
// неудачного refresh, когда локальная сессия уже сброшена.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// New создаёт клиент auth-сервиса.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// User — представление пользователя в ответах сервиса.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session — результат register/login.
type Session struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	User            User      `json:"user"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// Register регистрирует пользователя и сохраняет пару токенов в сессии клиента.
func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	in := map[string]string{"email": email, "password": password}
	if name != "" {
		in["name"] = name
	}

	var out Session
	if err := c.send(ctx, http.MethodPost, "/auth/register", in, &out, ""); err != nil {
		return nil, err
	}

	c.setSession(out.AccessToken, out.RefreshToken)
	return &out, nil
}

// Login выполняет вход и сохраняет пару токенов в сессии клиента.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	in := map[string]string{"email": email, "password": password}

	var out Session
	if err := c.send(ctx, http.MethodPost, "/auth/login", in, &out, ""); err != nil {
		return nil, err
	}

	c.setSession(out.AccessToken, out.RefreshToken)
	return &out, nil
}

// Logout отзывает refresh-токен на сервере и сбрасывает локальную сессию.
// Идемпотентен: без активной сессии — no-op.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refresh
	c.access, c.refresh = "", ""
	c.mu.Unlock()

	if refresh == "" {
		return nil
	}

	return c.send(ctx, http.MethodPost, "/auth/logout",
		map[string]string{"refresh_token": refresh}, nil, "")
}

// Bootstrap восстанавливает сессию по сохранённому refresh-токену
// (например, после рестарта процесса): выполняет тихий refresh.
func (c *Client) Bootstrap(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	c.refresh = refreshToken
	c.access = ""
	c.mu.Unlock()

	_, err := c.refreshAccess(ctx)
	return err
}

// Tokens возвращает текущую пару токенов (refresh — для персистенции
// между рестартами).
func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

func (c *Client) setSession(access, refresh string) {
	c.mu.Lock()
	c.access = access
	c.refresh = refresh
	c.mu.Unlock()
}

// Do выполняет запрос к защищённому API: JSON-тело in (может быть nil),
// JSON-ответ в out (может быть nil). Токен, 401 и ретрай — забота клиента.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	c.mu.Lock()
	access := c.access
	c.mu.Unlock()

	err := c.send(ctx, method, path, in, out, access)

	// Ретраим только отказ авторизации, и только не для самого refresh:
	// 401 от refresh-эндпойнта означает мёртвую сессию, а не устаревший access.
	if !IsAuthFailure(err) || path == refreshPath {
		return err
	}

	newAccess, rerr := c.waitForAccess(ctx, access)
	if rerr != nil {
		return rerr
	}

	// Единственный ретрай: повторный 401 уйдёт вызывающему как есть.
	return c.send(ctx, method, path, in, out, newAccess)
}

// Get — сокращение для Do(GET, path, nil, out).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post — сокращение для Do(POST, path, in, out).
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// waitForAccess возвращает access-токен, отличный от stale: либо уже
// обновлённый другим вызовом, либо полученный через single-flight refresh,
// либо ошибку, единую для всей очереди.
func (c *Client) waitForAccess(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()

	// Кто-то уже успел обновить токен, пока мы получали 401.
	if c.access != "" && c.access != stale {
		access := c.access
		c.mu.Unlock()
		return access, nil
	}

	// Refresh уже в полёте: встаём в очередь и ждём его исхода.
	if c.refreshing {
		w := &waiter{ch: make(chan waitResult, 1)}
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()

		select {
		case res := <-w.ch:
			return res.access, res.err
		case <-ctx.Done():
			// Снятие брошенного waiter-а не влияет на остальных.
			c.removeWaiter(w)
			return "", ctx.Err()
		}
	}

	// Мы — инициатор: поднимаем гейт и выполняем refresh сами.
	c.refreshing = true
	c.mu.Unlock()

	return c.refreshAccess(ctx)
}

// refreshAccess выполняет сам refresh-вызов и развязывает очередь.
// Вызывается либо инициатором storm-а (гейт уже поднят), либо из
// Bootstrap (очередь заведомо пуста).
func (c *Client) refreshAccess(ctx context.Context) (string, error) {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()

	var (
		access string
		err    error
	)

	if refresh == "" {
		err = ErrNoSession
	} else {
		var out refreshResponse
		err = c.send(ctx, http.MethodPost, refreshPath,
			map[string]string{"refresh_token": refresh}, &out, "")
		access = out.AccessToken
	}

	c.mu.Lock()
	c.refreshing = false
	ws := c.waiters
	c.waiters = nil

	var hook func()
	if err != nil {
		// Сессию, которую нельзя продлить, не переиспользуем.
		c.access, c.refresh = "", ""
		hook = c.onSessionExpired
		if !errors.Is(err, ErrNoSession) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
	} else {
		c.access = access
	}
	c.mu.Unlock()

	// Очередь развязывается в порядке постановки; исход один для всех.
	for _, w := range ws {
		w.ch <- waitResult{access: access, err: err}
	}

	if hook != nil {
		hook()
	}

	return access, err
}

func (c *Client) removeWaiter(target *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// send выполняет один HTTP-запрос. Тело строится заново на каждый вызов,
// поэтому ретрай безопасен.
func (c *Client) send(ctx context.Context, method, path string, in, out any, access string) error {
	const op = "authclient.send"

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiErrorFrom(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	return nil
}

// apiErrorFrom разбирает унифицированное тело ошибки сервиса.
// Нечитаемое тело не скрывает статус: код тогда "unknown".
func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	return apiErr
}
