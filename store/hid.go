package store

import "log/slog"

// HID is the Server-only raw keystroke-emission collaborator (spec.md
// §6.4). It carries no protocol semantics: layout-aware typing and the
// USB-HID report construction are entirely its concern.
type HID interface {
	// TypeUTF8 types payload using the currently configured layout.
	TypeUTF8(payload []byte) error
	// Tap emits one raw HID usage/modifier report.
	Tap(mods, usage byte) error
}

// LoggingHID is a reference HID implementation that records every
// call instead of driving real USB hardware. It is the default
// collaborator for bluekeyboardd when no platform-specific HID backend
// is wired in, and is what the dongle package's tests exercise against.
type LoggingHID struct {
	Typed []byte
	Taps  [][2]byte
}

// NewLoggingHID returns a fresh LoggingHID.
func NewLoggingHID() *LoggingHID { return &LoggingHID{} }

func (h *LoggingHID) TypeUTF8(payload []byte) error {
	h.Typed = append(h.Typed, payload...)
	slog.Info("hid: type_utf8", "bytes", len(payload))
	return nil
}

func (h *LoggingHID) Tap(mods, usage byte) error {
	h.Taps = append(h.Taps, [2]byte{mods, usage})
	slog.Info("hid: tap", "mods", mods, "usage", usage)
	return nil
}
