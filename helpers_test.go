package healauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessSecret = []byte("test-access-secret-0123456789abcdef")
	cfg.Token.RefreshSecret = []byte("test-refresh-secret-0123456789abcdef")
	cfg.OTP.TestMode = true

	// Keep argon2 cheap for the suite; production minimums still apply.
	cfg.OTP.HashMemory = 8 * 1024
	cfg.OTP.HashTime = 1

	return cfg
}

// mockAdapter is an in-memory DirectoryAdapter with injectable failures.
type mockAdapter struct {
	mu      sync.RWMutex
	byID    map[string]UserRecord
	byPhone map[string]string
	byEmail map[string]string

	failLookups  bool
	failPassword bool

	passwords map[string]string
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		byID:      make(map[string]UserRecord),
		byPhone:   make(map[string]string),
		byEmail:   make(map[string]string),
		passwords: make(map[string]string),
	}
}

func (m *mockAdapter) put(record UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[record.ID] = record
	if record.Phone != "" {
		m.byPhone[record.Phone] = record.ID
	}
	if record.Email != "" {
		m.byEmail[record.Email] = record.ID
	}
}

func (m *mockAdapter) FindByPhone(_ context.Context, phone string) (*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failLookups {
		return nil, errors.New("directory down")
	}
	id, ok := m.byPhone[phone]
	if !ok {
		return nil, nil
	}
	record := m.byID[id]
	return &record, nil
}

func (m *mockAdapter) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failLookups {
		return nil, errors.New("directory down")
	}
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	record := m.byID[id]
	return &record, nil
}

func (m *mockAdapter) FindByID(_ context.Context, id string) (*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failLookups {
		return nil, errors.New("directory down")
	}
	record, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *mockAdapter) SetPassword(_ context.Context, id, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPassword {
		return errors.New("write failed")
	}
	if _, ok := m.byID[id]; !ok {
		return errors.New("no such user")
	}
	m.passwords[id] = newPassword
	return nil
}

// mockNotifier records every dispatched code and can be told to fail.
type mockNotifier struct {
	mu       sync.Mutex
	smsCodes map[string]string
	mails    map[string]string
	fail     bool
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		smsCodes: make(map[string]string),
		mails:    make(map[string]string),
	}
}

func (n *mockNotifier) SendOTPSMS(_ context.Context, phone, code string, _ Role) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("sms gateway down")
	}
	n.smsCodes[phone] = code
	return nil
}

func (n *mockNotifier) SendOTPEmail(_ context.Context, email, code string, _ Role) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp down")
	}
	n.mails[email] = code
	return nil
}

func (n *mockNotifier) lastSMS(phone string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.smsCodes[phone]
}

func (n *mockNotifier) lastMail(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mails[email]
}

type testEnv struct {
	engine   *Engine
	redis    *redis.Client
	mini     *miniredis.Miniredis
	notifier *mockNotifier
	adapters map[Role]*mockAdapter
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	adapters := map[Role]*mockAdapter{
		RolePatient:    newMockAdapter(),
		RoleDoctor:     newMockAdapter(),
		RolePharmacy:   newMockAdapter(),
		RoleLaboratory: newMockAdapter(),
		RoleNurse:      newMockAdapter(),
		RoleAdmin:      newMockAdapter(),
	}
	directory := make(Directory, len(adapters))
	for role, adapter := range adapters {
		directory[role] = adapter
	}

	notifier := newMockNotifier()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(directory).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine:   engine,
		redis:    rdb,
		mini:     mr,
		notifier: notifier,
		adapters: adapters,
	}
}

func seedPatient(env *testEnv) UserRecord {
	record := UserRecord{
		ID:       "u-patient-1",
		Role:     RolePatient,
		Phone:    "2001001234567",
		Email:    "alice@example.com",
		Active:   true,
		Approved: true,
	}
	env.adapters[RolePatient].put(record)
	return record
}

func seedDoctor(env *testEnv, approved bool) UserRecord {
	record := UserRecord{
		ID:       "u-doctor-1",
		Role:     RoleDoctor,
		Phone:    "2001007654321",
		Email:    "dr.bob@example.com",
		Active:   true,
		Approved: approved,
	}
	env.adapters[RoleDoctor].put(record)
	return record
}

// waitDispatcher gives the audit run loop a beat to drain its channel.
func waitDispatcher() {
	time.Sleep(20 * time.Millisecond)
}
