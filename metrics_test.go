package healauth

import (
	"context"
	"sync"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginOTPRequested)
	m.Inc(MetricLoginOTPRequested)
	m.Inc(MetricLogout)

	if got := m.Get(MetricLoginOTPRequested); got != 2 {
		t.Fatalf("requested = %d, want 2", got)
	}
	if got := m.Get(MetricLogout); got != 1 {
		t.Fatalf("logout = %d, want 1", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginOTPRequested] != 2 {
		t.Fatalf("snapshot requested = %d, want 2", snap.Counters[MetricLoginOTPRequested])
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricTokensIssued)

	if got := m.Get(MetricTokensIssued); got != 0 {
		t.Fatalf("disabled counter = %d, want 0", got)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(MetricRefreshSuccess); got != 8000 {
		t.Fatalf("counter = %d, want 8000", got)
	}
}

func TestEngineMetricsTrackFlows(t *testing.T) {
	env := newTestEnv(t, testConfig())
	user := seedPatient(env)
	ctx := context.Background()

	if _, err := env.engine.RequestLoginOTP(ctx, RolePatient, user.Phone); err != nil {
		t.Fatalf("RequestLoginOTP failed: %v", err)
	}
	if _, _, err := env.engine.LoginWithOTP(ctx, RolePatient, user.Phone, testCode); err != nil {
		t.Fatalf("LoginWithOTP failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginOTPRequested] != 1 {
		t.Fatalf("requested = %d, want 1", snap.Counters[MetricLoginOTPRequested])
	}
	if snap.Counters[MetricLoginOTPVerified] != 1 {
		t.Fatalf("verified = %d, want 1", snap.Counters[MetricLoginOTPVerified])
	}
	if snap.Counters[MetricTokensIssued] != 1 {
		t.Fatalf("issued = %d, want 1", snap.Counters[MetricTokensIssued])
	}
}
