package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	key        []byte
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data.
type Session struct {
	ID        string
	staffID   string
	role      string
	isNew     bool
	dirty     bool
	destroyed bool
}

type sessionPayload struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role"`
}

// NewSessionManager constructs a SessionManager. Cookie values are the session
// ID plus a keyed BLAKE2b tag derived from secret; cookies whose tag does not
// verify are treated as absent.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	key := blake2b.Sum256([]byte(secret))
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		key:        key[:],
		ttl:        ttl,
		secure:     secure,
	}
}

// Load loads the session named by the request cookie or starts a new one.
// A cookie whose session expired yields a fresh anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	id, ok := sm.verify(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	return &Session{ID: id, staffID: stored.StaffID, role: stored.Role}, nil
}

// Commit persists the session and writes cookie headers as needed. Anonymous
// sessions are never stored.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if sess.staffID == "" || !sess.dirty {
		return nil
	}

	data, err := json.Marshal(sessionPayload{StaffID: sess.staffID, Role: sess.role})
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return err
	}
	sess.dirty = false
	sess.isNew = false

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sm.sign(sess.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// SignIn binds the session to a staff member. The session ID is rotated so a
// pre-login cookie cannot be reused.
func (s *Session) SignIn(staffID, role string) {
	s.ID = uuid.NewString()
	s.staffID = staffID
	s.role = role
	s.dirty = true
}

// StaffID returns the signed-in staff ID, empty for anonymous sessions.
func (s *Session) StaffID() string {
	return s.staffID
}

// Role returns the stored role string.
func (s *Session) Role() string {
	return s.role
}

// IsNew reports whether the session was created during this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

func (sm *SessionManager) newSession() *Session {
	return &Session{ID: uuid.NewString(), isNew: true}
}

func (sm *SessionManager) tag(id string) []byte {
	mac, _ := blake2b.New256(sm.key)
	mac.Write([]byte(id))
	return mac.Sum(nil)
}

func (sm *SessionManager) sign(id string) string {
	return id + "." + base64.RawURLEncoding.EncodeToString(sm.tag(id))
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, encoded, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return id, subtle.ConstantTimeCompare(got, sm.tag(id)) == 1
}

func (sm *SessionManager) redisKey(id string) string {
	return "hearth:session:" + id
}
