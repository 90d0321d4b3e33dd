package systemd

import "testing"

func TestOutsideSystemd(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("get listeners: %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Errorf("expected no activated listeners, got %+v", listeners)
	}

	if IsSystemdService() {
		t.Error("IsSystemdService should be false without NOTIFY_SOCKET")
	}
	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady outside systemd: %v", err)
	}
	if WatchdogInterval() != 0 {
		t.Error("watchdog should be disabled")
	}
}
