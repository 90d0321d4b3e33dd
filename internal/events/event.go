package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies an OS lifecycle transition.
type Kind string

const (
	ForegroundEntered Kind = "foreground_entered"
	ForegroundExited  Kind = "foreground_exited"
	ScreenOff         Kind = "screen_off"
	ScreenOn          Kind = "screen_on"
	DeviceLocked      Kind = "device_locked"
	DeviceUnlocked    Kind = "device_unlocked"
	DeviceShutdown    Kind = "device_shutdown"
)

// Android UsageEvents.Event type codes.
const (
	androidMoveToForeground     = 1
	androidMoveToBackground     = 2
	androidScreenInteractive    = 15
	androidScreenNonInteractive = 16
	androidKeyguardShown        = 17
	androidKeyguardHidden       = 18
	androidDeviceShutdown       = 26
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case ForegroundEntered, ForegroundExited, ScreenOff, ScreenOn,
		DeviceLocked, DeviceUnlocked, DeviceShutdown:
		return true
	}
	return false
}

// Interrupts reports whether k ends the current session because the device,
// not the app, stopped being used.
func (k Kind) Interrupts() bool {
	return k == ScreenOff || k == DeviceLocked || k == DeviceShutdown
}

// UnmarshalJSON normalizes kind names to lower case.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Kind(strings.ToLower(s))
	if !normalized.Valid() {
		return fmt.Errorf("invalid event kind: %s", s)
	}
	*k = normalized
	return nil
}

// KindFromAndroid maps an Android UsageEvents.Event type code to a Kind.
// The second return value is false for codes the reconstructor does not use.
func KindFromAndroid(code int) (Kind, bool) {
	switch code {
	case androidMoveToForeground:
		return ForegroundEntered, true
	case androidMoveToBackground:
		return ForegroundExited, true
	case androidScreenInteractive:
		return ScreenOn, true
	case androidScreenNonInteractive:
		return ScreenOff, true
	case androidKeyguardShown:
		return DeviceLocked, true
	case androidKeyguardHidden:
		return DeviceUnlocked, true
	case androidDeviceShutdown:
		return DeviceShutdown, true
	default:
		return "", false
	}
}

// RawEvent is one OS-reported lifecycle transition. Timestamp is in
// milliseconds since the Unix epoch.
type RawEvent struct {
	AppID     string `json:"app_id"`
	Kind      Kind   `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// Time returns the event timestamp as a time.Time.
func (e RawEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Enter builds a ForegroundEntered event.
func Enter(appID string, ts int64) RawEvent {
	return RawEvent{AppID: appID, Kind: ForegroundEntered, Timestamp: ts}
}

// Exit builds a ForegroundExited event.
func Exit(appID string, ts int64) RawEvent {
	return RawEvent{AppID: appID, Kind: ForegroundExited, Timestamp: ts}
}

// System builds a device-wide event with no app.
func System(kind Kind, ts int64) RawEvent {
	return RawEvent{Kind: kind, Timestamp: ts}
}
