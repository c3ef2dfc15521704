package auth

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tendant/identity-manager/pkg/domain"
	"github.com/tendant/identity-manager/pkg/repository/memory"
)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainHasher keeps tests fast; Argon2 is covered in password_test.go.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(password, encodedHash string) bool {
	return constantTimeCompare([]byte("plain:"+password), []byte(encodedHash))
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sentMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sentMessage{To: to, Subject: subject, Body: body})
	return r.err
}

func (r *recordingSender) Messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.msgs...)
}

func (r *recordingSender) Last(t *testing.T) sentMessage {
	t.Helper()
	msgs := r.Messages()
	if len(msgs) == 0 {
		t.Fatal("no message sent")
	}
	return msgs[len(msgs)-1]
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// tokenFrom extracts the raw token from a mailed link.
func tokenFrom(t *testing.T, msg sentMessage) string {
	t.Helper()
	m := tokenParam.FindStringSubmatch(msg.Body)
	if m == nil {
		t.Fatalf("no token in message body: %s", msg.Body)
	}
	return m[1]
}

type testEnv struct {
	svc      *AccountService
	store    *memory.Store
	sender   *recordingSender
	clock    *testClock
	sessions *JWTSessionIssuer
	sleeps   []time.Duration
}

func newTestEnv(t *testing.T, cfg AccountConfig) *testEnv {
	t.Helper()

	clock := newTestClock()
	store := memory.New()
	sender := &recordingSender{}

	tokens := NewTokenIssuer(store)
	tokens.now = clock.Now
	lockout := NewLockoutTracker(store, domain.DefaultLockoutPolicy())
	lockout.now = clock.Now
	sessions := NewJWTSessionIssuer(SessionConfig{JWTSecret: []byte("test-secret")}, store)
	sessions.now = clock.Now

	if cfg.AppBaseURL == "" {
		cfg.AppBaseURL = "https://app.example.com"
	}

	env := &testEnv{store: store, sender: sender, clock: clock, sessions: sessions}
	env.svc = NewAccountService(cfg, AccountDeps{
		Store:    store,
		Hasher:   plainHasher{},
		Tokens:   tokens,
		Lockout:  lockout,
		Sessions: sessions,
		Notifier: sender,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	env.svc.now = clock.Now
	env.svc.sleep = func(ctx context.Context, d time.Duration) {
		env.sleeps = append(env.sleeps, d)
	}
	return env
}

func isConfirmation(msg sentMessage) bool {
	return strings.Contains(msg.Body, "/auth/confirm-email?")
}
