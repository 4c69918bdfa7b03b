// Package hotkey delivers a system-wide key combination, so recording can be
// toggled while another window has focus.
package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const DefaultCombo = "ctrl+shift+space"

// Combo is a key with optional Ctrl and Shift modifiers. Key is "space",
// a single letter, or f1..f12.
type Combo struct {
	Ctrl  bool
	Shift bool
	Key   string
}

func ParseCombo(s string) (Combo, error) {
	var c Combo
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < len(parts)-1 {
			switch p {
			case "ctrl", "control":
				c.Ctrl = true
			case "shift":
				c.Shift = true
			default:
				return Combo{}, fmt.Errorf("hotkey %q: unsupported modifier %q", s, p)
			}
			continue
		}
		if !validKey(p) {
			return Combo{}, fmt.Errorf("hotkey %q: unsupported key %q", s, p)
		}
		c.Key = p
	}
	if !c.Ctrl && !c.Shift {
		return Combo{}, fmt.Errorf("hotkey %q: needs ctrl or shift", s)
	}
	return c, nil
}

func (c Combo) String() string {
	var parts []string
	if c.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if c.Shift {
		parts = append(parts, "Shift")
	}
	key := strings.ToUpper(c.Key)
	if c.Key == "space" {
		key = "Space"
	}
	return strings.Join(append(parts, key), "+")
}

func validKey(k string) bool {
	if k == "space" {
		return true
	}
	if len(k) == 1 && k[0] >= 'a' && k[0] <= 'z' {
		return true
	}
	_, ok := functionKey(k)
	return ok
}

// functionKey returns n for "fn" with n in 1..12.
func functionKey(k string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(k, "f%d", &n); err != nil || fmt.Sprintf("f%d", n) != k {
		return 0, false
	}
	return n, n >= 1 && n <= 12
}
