package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims identify the principal a ticket was issued to.
type Claims struct {
	Sub string `json:"sub"`
	JTI string `json:"jti"`
	Exp int64  `json:"exp"`
}

var (
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrExpiredTicket = errors.New("expired ticket")
)

const ticketPrefix = "TICKET_"

func IssueTicket(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return ticketPrefix + payload + "." + sign(secret, payload), nil
}

func ParseTicket(secret []byte, ticket string) (Claims, error) {
	if !strings.HasPrefix(ticket, ticketPrefix) {
		return Claims{}, ErrInvalidTicket
	}
	parts := strings.Split(strings.TrimPrefix(ticket, ticketPrefix), ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidTicket
	}
	payload := parts[0]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return Claims{}, ErrInvalidTicket
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidTicket
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidTicket
	}
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidTicket
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredTicket
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// CredentialKey derives the cache key for a principal and credential pair.
func CredentialKey(principal, credential string) string {
	sum := sha256.Sum256([]byte(principal + "\x00" + credential))
	return fmt.Sprintf("%x", sum)
}
