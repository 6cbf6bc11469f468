package featureflags

import "testing"

func TestEnabled_Switches(t *testing.T) {
	m := NewManager("claims=off,purchases=on,x=0,y=true")

	if m.Enabled(Claims, 1) || m.Enabled("x", 1) {
		t.Fatal("switched-off flags must evaluate false")
	}
	if !m.Enabled(Purchases, 1) || !m.Enabled("y", 1) {
		t.Fatal("switched-on flags must evaluate true")
	}
}

func TestEnabled_UnsetAndNil(t *testing.T) {
	var nilManager *Manager
	if !nilManager.Enabled(Claims, 1) {
		t.Fatal("nil manager must allow everything")
	}
	if !NewManager("").Enabled(Purchases, 9) {
		t.Fatal("unset flags must be on")
	}
	if NewManager("purchases=maybe").Enabled(Purchases, 9) {
		t.Fatal("unparseable values must fail closed")
	}
}

func TestEnabled_Rollout(t *testing.T) {
	m := NewManager("always=100%,never=0%,purchases=25%")

	if !m.Enabled("always", 1) || m.Enabled("never", 1) {
		t.Fatal("0% and 100% rollouts are absolute")
	}

	first := m.Enabled(Purchases, 42)
	for i := 0; i < 5; i++ {
		if m.Enabled(Purchases, 42) != first {
			t.Fatal("rollout must be deterministic per user")
		}
	}
	if m.Enabled(Purchases, 0) {
		t.Fatal("partial rollout requires a user")
	}

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled(Purchases, id) {
			on++
		}
	}
	if on < 150 || on > 350 {
		t.Fatalf("25%% rollout enabled %d of 1000 users", on)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewManager(" bad , claims = off ,purchases=20% ")

	snap := m.Snapshot(123)
	if len(snap) != 2 {
		t.Fatalf("expected 2 flags, got %#v", snap)
	}
	if snap[Claims] {
		t.Fatal("claims should be off")
	}
}
