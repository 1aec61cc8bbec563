package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenValidity - сколько сервер принимает выданный токен.
const TokenValidity = 30 * time.Second

var (
	ErrInvalidBaseURL   = errors.New("invalid base url")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrInvalidToken     = errors.New("invalid token response")
)

type Token struct {
	Value     string    `json:"token"`
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"-"`
}

func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// FetchToken запрашивает одноразовый токен для подключения к /events.
// Истёкший токен не обновляется: сервер ответит сообщением об ошибке.
func FetchToken(ctx context.Context, client *http.Client, baseURL string) (Token, error) {
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/wsAuth"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("failed to get token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var tok Token

	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	if tok.Value == "" || tok.Port <= 0 || tok.Port > 65535 {
		return Token{}, fmt.Errorf("%w: token=%q port=%d", ErrInvalidToken, tok.Value, tok.Port)
	}

	tok.ExpiresAt = time.Now().Add(TokenValidity)

	return tok, nil
}

// BuildURL строит адрес вида ws[s]://<host>:<port>/events?token=<token>.
// Схема https даёт wss, http - ws.
func BuildURL(baseURL string, tok Token) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	var scheme string

	switch u.Scheme {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidBaseURL, u.Scheme)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidBaseURL, baseURL)
	}

	wsURL := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(u.Hostname(), strconv.Itoa(tok.Port)),
		Path:     "/events",
		RawQuery: url.Values{"token": {tok.Value}}.Encode(),
	}

	return wsURL.String(), nil
}

func ConnectURL(ctx context.Context, client *http.Client, baseURL string) (string, Token, error) {
	tok, err := FetchToken(ctx, client, baseURL)
	if err != nil {
		return "", Token{}, err
	}

	wsURL, err := BuildURL(baseURL, tok)
	if err != nil {
		return "", Token{}, err
	}

	return wsURL, tok, nil
}
