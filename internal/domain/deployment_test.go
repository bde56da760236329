package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to DeploymentStatus
		want     bool
	}{
		{StatusPending, StatusProvisioning, true},
		{StatusPending, StatusRunning, false},
		{StatusProvisioning, StatusBuilding, true},
		{StatusProvisioning, StatusFailed, true},
		{StatusBuilding, StatusRunning, true},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusDestroyed, true},
		{StatusStopped, StatusDestroyed, true},
		{StatusPending, StatusDestroyed, true},
		{StatusBuilding, StatusDestroyed, true},
		{StatusFailed, StatusRunning, false},
		{StatusDestroyed, StatusPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestDeploymentStatusIsTerminal(t *testing.T) {
	for _, s := range []DeploymentStatus{StatusFailed, StatusDestroyed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []DeploymentStatus{StatusPending, StatusProvisioning, StatusBuilding, StatusRunning, StatusStopped} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDeploymentInvariant(t *testing.T) {
	d := &Deployment{Status: StatusRunning}
	if err := d.Invariant(); err == nil {
		t.Fatal("expected invariant violation for running deployment without sandbox/url")
	}
	d.SandboxHandle = "sb1"
	d.PublicURL = "https://sb1.example/"
	if err := d.Invariant(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}
