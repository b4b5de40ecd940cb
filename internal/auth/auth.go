// Package auth resolves authenticated participant identity for inbound
// requests. The orchestration core never trusts a client-supplied participant
// id; every command is attributed through this layer.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

var ErrUnauthenticated = errors.New("missing or invalid credentials")

type Identity interface {
	// ParticipantID returns the authenticated participant for a request.
	ParticipantID(r *http.Request) (string, error)
}

// TokenIdentity maps bearer tokens to participant ids. It stands in for the
// product's real identity provider behind the same contract.
type TokenIdentity struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenIdentity() *TokenIdentity {
	return &TokenIdentity{tokens: map[string]string{}}
}

// Register associates a token with a participant id.
func (t *TokenIdentity) Register(token, participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = participantID
}

func (t *TokenIdentity) ParticipantID(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", ErrUnauthenticated
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.tokens[token]
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return rest
	}
	// Websocket clients cannot set headers from browsers, so a token query
	// parameter is accepted as well.
	return r.URL.Query().Get("token")
}
