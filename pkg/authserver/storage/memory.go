// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/handler/openid"

	"github.com/TastyPi/discord-oidc/pkg/logger"
)

// timedEntry wraps a value with its creation time for TTL tracking.
// A zero expiresAt never expires.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func newEntry[T any](value T, expiresAt time.Time) *timedEntry[T] {
	return &timedEntry[T]{value: value, createdAt: time.Now(), expiresAt: expiresAt}
}

// MemoryStorage implements Storage and UpstreamTokenStorage with in-memory maps.
// It is safe for concurrent use. State lives for the lifetime of the process.
//
// Token maps store fosite.Requester (not just token strings) because fosite needs
// the full authorization context for validation and introspection.
type MemoryStorage struct {
	mu sync.RWMutex

	clients map[string]fosite.Client

	// authCodes maps authorization code signature -> Requester. Codes are
	// one-time-use; invalidatedCodes tracks used codes.
	authCodes        map[string]*timedEntry[fosite.Requester]
	invalidatedCodes map[string]*timedEntry[bool]

	accessTokens  map[string]*timedEntry[fosite.Requester]
	refreshTokens map[string]*timedEntry[fosite.Requester]
	pkceRequests  map[string]*timedEntry[fosite.Requester]

	// oidcSessions maps the full authorization code -> the authorize request
	// that asked for an ID token.
	oidcSessions map[string]*timedEntry[fosite.Requester]

	clientAssertionJWTs map[string]time.Time

	interactions map[string]*timedEntry[*Interaction]
	sessions     map[string]*timedEntry[*EndUserSession]
	grants       map[string]*timedEntry[*Grant]

	// upstreamTokens maps subject -> Discord access token.
	upstreamTokens   map[string]*timedEntry[string]
	upstreamTokenTTL time.Duration

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithUpstreamTokenTTL expires stored upstream tokens after ttl. Zero keeps
// them for the lifetime of the process.
func WithUpstreamTokenTTL(ttl time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.upstreamTokenTTL = ttl
	}
}

// NewMemoryStorage creates a new MemoryStorage instance with initialized maps
// and starts the background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:             make(map[string]fosite.Client),
		authCodes:           make(map[string]*timedEntry[fosite.Requester]),
		invalidatedCodes:    make(map[string]*timedEntry[bool]),
		accessTokens:        make(map[string]*timedEntry[fosite.Requester]),
		refreshTokens:       make(map[string]*timedEntry[fosite.Requester]),
		pkceRequests:        make(map[string]*timedEntry[fosite.Requester]),
		oidcSessions:        make(map[string]*timedEntry[fosite.Requester]),
		clientAssertionJWTs: make(map[string]time.Time),
		interactions:        make(map[string]*timedEntry[*Interaction]),
		sessions:            make(map[string]*timedEntry[*EndUserSession]),
		grants:              make(map[string]*timedEntry[*Grant]),
		upstreamTokens:      make(map[string]*timedEntry[string]),
		cleanupInterval:     DefaultCleanupInterval,
		stopCleanup:         make(chan struct{}),
		cleanupDone:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func expiredKeys[T any](m map[string]*timedEntry[T], now time.Time) []string {
	var keys []string
	for k, v := range m {
		if v.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

func deleteKeys[T any](m map[string]*timedEntry[T], keys []string) {
	for _, k := range keys {
		delete(m, k)
	}
}

// cleanupExpired removes all expired entries from storage.
// Expired keys are collected under the read lock and deleted under the write
// lock, so the write lock is held only when there is something to delete.
func (s *MemoryStorage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	authCodes := expiredKeys(s.authCodes, now)
	invalidated := expiredKeys(s.invalidatedCodes, now)
	accessTokens := expiredKeys(s.accessTokens, now)
	refreshTokens := expiredKeys(s.refreshTokens, now)
	pkce := expiredKeys(s.pkceRequests, now)
	oidc := expiredKeys(s.oidcSessions, now)
	interactions := expiredKeys(s.interactions, now)
	sessions := expiredKeys(s.sessions, now)
	grants := expiredKeys(s.grants, now)
	upstream := expiredKeys(s.upstreamTokens, now)
	var jwts []string
	for k, v := range s.clientAssertionJWTs {
		if now.After(v) {
			jwts = append(jwts, k)
		}
	}
	s.mu.RUnlock()

	total := len(authCodes) + len(invalidated) + len(accessTokens) + len(refreshTokens) + len(pkce) +
		len(oidc) + len(interactions) + len(sessions) + len(grants) + len(upstream) + len(jwts)
	if total == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleteKeys(s.authCodes, authCodes)
	deleteKeys(s.invalidatedCodes, authCodes)
	deleteKeys(s.invalidatedCodes, invalidated)
	deleteKeys(s.accessTokens, accessTokens)
	deleteKeys(s.refreshTokens, refreshTokens)
	deleteKeys(s.pkceRequests, pkce)
	deleteKeys(s.oidcSessions, oidc)
	deleteKeys(s.interactions, interactions)
	deleteKeys(s.sessions, sessions)
	deleteKeys(s.grants, grants)
	deleteKeys(s.upstreamTokens, upstream)
	for _, k := range jwts {
		delete(s.clientAssertionJWTs, k)
	}

	logger.Debugw("removed expired storage entries", "count", total)
}

// getExpirationFromRequester extracts expiration time from a fosite.Requester session.
// Returns now + defaultTTL if expiration cannot be extracted.
func getExpirationFromRequester(request fosite.Requester, tokenType fosite.TokenType, defaultTTL time.Duration) time.Time {
	if request == nil || request.GetSession() == nil {
		return time.Now().Add(defaultTTL)
	}
	expTime := request.GetSession().GetExpiresAt(tokenType)
	if expTime.IsZero() {
		return time.Now().Add(defaultTTL)
	}
	return expTime
}

func notFound(hint string) error {
	return fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint(hint))
}

// RegisterClient adds or updates a client in the storage.
func (s *MemoryStorage) RegisterClient(_ context.Context, client fosite.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.GetID()] = client
	return nil
}

// -----------------------
// fosite.ClientManager
// -----------------------

// GetClient loads the client by its ID or returns an error if the client does not exist.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (fosite.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, notFound("Client not found")
	}
	return client, nil
}

// ClientAssertionJWTValid returns fosite.ErrJTIKnown if the JTI was already used.
func (s *MemoryStorage) ClientAssertionJWTValid(_ context.Context, jti string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if exp, ok := s.clientAssertionJWTs[jti]; ok && time.Now().Before(exp) {
		return fosite.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT marks a JTI as known for the given expiry time.
func (s *MemoryStorage) SetClientAssertionJWT(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientAssertionJWTs[jti] = exp
	return nil
}

// -----------------------
// oauth2.AuthorizeCodeStorage
// -----------------------

// CreateAuthorizeCodeSession stores the authorization request for a given authorization code.
func (s *MemoryStorage) CreateAuthorizeCodeSession(_ context.Context, code string, request fosite.Requester) error {
	if code == "" {
		return fosite.ErrInvalidRequest.WithHint("authorization code cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = newEntry(request, getExpirationFromRequester(request, fosite.AuthorizeCode, DefaultAuthCodeTTL))
	return nil
}

// GetAuthorizeCodeSession retrieves the authorization request for a given code.
// An invalidated code returns the request together with fosite.ErrInvalidatedAuthorizeCode,
// which fosite uses to revoke tokens issued from a replayed code.
func (s *MemoryStorage) GetAuthorizeCodeSession(_ context.Context, code string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.authCodes[code]
	if !ok {
		return nil, notFound("Authorization code not found")
	}
	if s.invalidatedCodes[code] != nil {
		return entry.value, fosite.ErrInvalidatedAuthorizeCode
	}
	return entry.value, nil
}

// InvalidateAuthorizeCodeSession marks an authorization code as used.
func (s *MemoryStorage) InvalidateAuthorizeCodeSession(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; !ok {
		return notFound("Authorization code not found")
	}
	s.invalidatedCodes[code] = newEntry(true, time.Now().Add(DefaultInvalidatedCodeTTL))
	return nil
}

// -----------------------
// oauth2.AccessTokenStorage
// -----------------------

// CreateAccessTokenSession stores the access token session.
func (s *MemoryStorage) CreateAccessTokenSession(_ context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("access token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[signature] = newEntry(request, getExpirationFromRequester(request, fosite.AccessToken, DefaultAccessTokenTTL))
	return nil
}

// GetAccessTokenSession retrieves the access token session by its signature.
func (s *MemoryStorage) GetAccessTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accessTokens[signature]
	if !ok {
		return nil, notFound("Access token not found")
	}
	return entry.value, nil
}

// DeleteAccessTokenSession removes the access token session.
func (s *MemoryStorage) DeleteAccessTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[signature]; !ok {
		return notFound("Access token not found")
	}
	delete(s.accessTokens, signature)
	return nil
}

// -----------------------
// oauth2.RefreshTokenStorage
// -----------------------

// The bridge never issues refresh tokens; these methods exist because fosite's
// authorization code handler requires the full CoreStorage.

// CreateRefreshTokenSession stores the refresh token session.
func (s *MemoryStorage) CreateRefreshTokenSession(_ context.Context, signature string, _ string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("refresh token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[signature] = newEntry(request, getExpirationFromRequester(request, fosite.RefreshToken, DefaultRefreshTokenTTL))
	return nil
}

// GetRefreshTokenSession retrieves the refresh token session by its signature.
func (s *MemoryStorage) GetRefreshTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[signature]
	if !ok {
		return nil, notFound("Refresh token not found")
	}
	return entry.value, nil
}

// DeleteRefreshTokenSession removes the refresh token session.
func (s *MemoryStorage) DeleteRefreshTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[signature]; !ok {
		return notFound("Refresh token not found")
	}
	delete(s.refreshTokens, signature)
	return nil
}

// RotateRefreshToken invalidates a refresh token and the access tokens of the same request.
func (s *MemoryStorage) RotateRefreshToken(_ context.Context, requestID string, refreshTokenSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, refreshTokenSignature)
	s.deleteByRequestID(s.accessTokens, requestID)
	return nil
}

// deleteByRequestID removes every entry issued from the given request.
// Callers must hold the write lock.
func (*MemoryStorage) deleteByRequestID(m map[string]*timedEntry[fosite.Requester], requestID string) {
	for sig, entry := range m {
		if entry.value.GetID() == requestID {
			delete(m, sig)
		}
	}
}

// -----------------------
// oauth2.TokenRevocationStorage
// -----------------------

// RevokeAccessToken removes all access tokens issued from the request.
// fosite calls this when an authorization code is replayed.
func (s *MemoryStorage) RevokeAccessToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteByRequestID(s.accessTokens, requestID)
	return nil
}

// RevokeRefreshToken removes all refresh tokens issued from the request.
func (s *MemoryStorage) RevokeRefreshToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteByRequestID(s.refreshTokens, requestID)
	return nil
}

// RevokeRefreshTokenMaybeGracePeriod revokes immediately; grace periods are not supported.
func (s *MemoryStorage) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

// -----------------------
// pkce.PKCERequestStorage
// -----------------------

// CreatePKCERequestSession stores the PKCE request session.
func (s *MemoryStorage) CreatePKCERequestSession(_ context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("PKCE signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkceRequests[signature] = newEntry(request, getExpirationFromRequester(request, fosite.AuthorizeCode, DefaultPKCETTL))
	return nil
}

// GetPKCERequestSession retrieves the PKCE request session by its signature.
func (s *MemoryStorage) GetPKCERequestSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.pkceRequests[signature]
	if !ok {
		return nil, notFound("PKCE request not found")
	}
	return entry.value, nil
}

// DeletePKCERequestSession removes the PKCE request session.
func (s *MemoryStorage) DeletePKCERequestSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pkceRequests[signature]; !ok {
		return notFound("PKCE request not found")
	}
	delete(s.pkceRequests, signature)
	return nil
}

// -----------------------
// openid.OpenIDConnectRequestStorage
// -----------------------

// CreateOpenIDConnectSession stores the authorize request that asked for an ID token.
func (s *MemoryStorage) CreateOpenIDConnectSession(_ context.Context, authorizeCode string, request fosite.Requester) error {
	if authorizeCode == "" {
		return fosite.ErrInvalidRequest.WithHint("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidcSessions[authorizeCode] = newEntry(request, getExpirationFromRequester(request, fosite.AuthorizeCode, DefaultAuthCodeTTL))
	return nil
}

// GetOpenIDConnectSession returns openid.ErrNoSessionFound when the code did not request openid.
func (s *MemoryStorage) GetOpenIDConnectSession(_ context.Context, authorizeCode string, _ fosite.Requester) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.oidcSessions[authorizeCode]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, openid.ErrNoSessionFound)
	}
	return entry.value, nil
}

// DeleteOpenIDConnectSession removes the session for the code.
func (s *MemoryStorage) DeleteOpenIDConnectSession(_ context.Context, authorizeCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.oidcSessions, authorizeCode)
	return nil
}

// -----------------------
// InteractionStorage
// -----------------------

// SaveInteraction stores a copy of the interaction.
func (s *MemoryStorage) SaveInteraction(_ context.Context, interaction *Interaction) error {
	if interaction == nil || interaction.UID == "" {
		return fmt.Errorf("interaction uid cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[interaction.UID] = newEntry(interaction.Clone(), interaction.ExpiresAt)
	return nil
}

// GetInteraction returns a copy of the interaction.
func (s *MemoryStorage) GetInteraction(_ context.Context, uid string) (*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.interactions[uid]
	if !ok {
		return nil, fmt.Errorf("%w: interaction %s", ErrNotFound, uid)
	}
	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: interaction %s", ErrExpired, uid)
	}
	return entry.value.Clone(), nil
}

// DeleteInteraction removes the interaction.
func (s *MemoryStorage) DeleteInteraction(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interactions, uid)
	return nil
}

// -----------------------
// SessionStorage
// -----------------------

// SaveSession stores a copy of the session.
func (s *MemoryStorage) SaveSession(_ context.Context, session *EndUserSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = newEntry(session.Clone(), session.ExpiresAt)
	return nil
}

// GetSession returns a copy of the session.
func (s *MemoryStorage) GetSession(_ context.Context, id string) (*EndUserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session", ErrNotFound)
	}
	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: session", ErrExpired)
	}
	return entry.value.Clone(), nil
}

// DeleteSession removes the session.
func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// -----------------------
// GrantStorage
// -----------------------

// SaveGrant stores a copy of the grant.
func (s *MemoryStorage) SaveGrant(_ context.Context, grant *Grant) error {
	if grant == nil || grant.ID == "" {
		return fmt.Errorf("grant id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = newEntry(grant.Clone(), grant.ExpiresAt)
	return nil
}

// GetGrant returns a copy of the grant.
func (s *MemoryStorage) GetGrant(_ context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: grant %s", ErrExpired, id)
	}
	return entry.value.Clone(), nil
}

// -----------------------
// UpstreamTokenStorage
// -----------------------

// GetUpstreamToken returns the Discord access token stored for subject.
func (s *MemoryStorage) GetUpstreamToken(_ context.Context, subject string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.upstreamTokens[subject]
	if !ok || entry.expired(time.Now()) {
		return "", fmt.Errorf("%w: upstream token", ErrNotFound)
	}
	return entry.value, nil
}

// SetUpstreamToken stores token for subject, replacing any previous token.
func (s *MemoryStorage) SetUpstreamToken(_ context.Context, subject, token string) error {
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	var expiresAt time.Time
	if s.upstreamTokenTTL > 0 {
		expiresAt = time.Now().Add(s.upstreamTokenTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstreamTokens[subject] = newEntry(token, expiresAt)
	return nil
}

var (
	_ Storage              = (*MemoryStorage)(nil)
	_ UpstreamTokenStorage = (*MemoryStorage)(nil)
)
