package hotkey

import (
	"context"
	"testing"
	"time"
)

func waitToggle(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("toggle channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for toggle")
	}
}

func expectNoToggle(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected toggle")
	case <-time.After(d):
	}
}

func TestTogglesOnePerPress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fk := NewFake()
	toggles := Toggles(ctx, fk, 0)

	for i := 0; i < 3; i++ {
		fk.SimPress()
		waitToggle(t, toggles)
	}
	expectNoToggle(t, toggles, 30*time.Millisecond)
}

func TestTogglesDebounce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fk := NewFake()
	debounce := 100 * time.Millisecond
	toggles := Toggles(ctx, fk, debounce)

	fk.SimKeydown()
	waitToggle(t, toggles)
	fk.SimKeydown() // bounce
	expectNoToggle(t, toggles, 30*time.Millisecond)

	time.Sleep(debounce)
	fk.SimKeydown()
	waitToggle(t, toggles)
}

func TestTogglesClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	toggles := Toggles(ctx, NewFake(), 0)
	cancel()
	select {
	case _, ok := <-toggles:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestParseCombo(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    Combo
		wantErr bool
	}{
		{"ctrl+shift+space", Combo{Ctrl: true, Shift: true, Key: "space"}, false},
		{"Ctrl+R", Combo{Ctrl: true, Key: "r"}, false},
		{"shift+f9", Combo{Shift: true, Key: "f9"}, false},
		{"space", Combo{}, true},
		{"alt+space", Combo{}, true},
		{"ctrl+f13", Combo{}, true},
		{"ctrl+enter", Combo{}, true},
	} {
		got, err := ParseCombo(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCombo(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCombo(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	c, _ := ParseCombo(DefaultCombo)
	if c.String() != "Ctrl+Shift+Space" {
		t.Errorf("String = %q", c.String())
	}
}
