package transcript

import (
	"sync"
	"testing"
)

func TestAppendOrder(t *testing.T) {
	tr := New()
	tr.Append(RoleUser, "Hello")
	tr.Append(RoleBot, "Hi!")
	tr.Append(RoleError, "oops")

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	want := []struct {
		role Role
		text string
	}{{RoleUser, "Hello"}, {RoleBot, "Hi!"}, {RoleError, "oops"}}
	for i, w := range want {
		e := entries[i]
		if e.Seq != uint64(i+1) || e.Role != w.role || e.Text != w.text {
			t.Errorf("entry %d = %+v, want seq=%d %v %q", i, e, i+1, w.role, w.text)
		}
	}
}

func TestEntriesIsCopy(t *testing.T) {
	tr := New()
	tr.Append(RoleUser, "a")
	got := tr.Entries()
	got[0].Text = "mutated"
	if tr.Entries()[0].Text != "a" {
		t.Error("Entries exposed internal storage")
	}
}

func TestSubscribersSeeEveryAppendInOrder(t *testing.T) {
	tr := New()
	var mu sync.Mutex
	var seen []uint64
	tr.Subscribe(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Append(RoleBot, "x")
		}()
	}
	wg.Wait()

	if tr.Len() != 50 || len(seen) != 50 {
		t.Fatalf("Len=%d notifications=%d, want 50", tr.Len(), len(seen))
	}
	for i, seq := range seen {
		if seq != uint64(i+1) {
			t.Fatalf("notification %d has seq %d", i, seq)
		}
	}
}

func TestSanitize(t *testing.T) {
	for _, tt := range []struct {
		name, in, want string
	}{
		{"plain", "hello world", "hello world"},
		{"markup stays literal", "<b>bold</b>", "<b>bold</b>"},
		{"csi color", "\x1b[31mred\x1b[0m", "red"},
		{"clear screen", "a\x1b[2Jb", "ab"},
		{"osc title", "\x1b]0;pwned\x07ok", "ok"},
		{"bell and backspace", "a\x07\bb", "ab"},
		{"newlines kept", "one\r\ntwo\rthree", "one\ntwo\nthree"},
		{"tab kept", "a\tb", "a\tb"},
		{"bidi override", "abc‮def", "abcdef"},
		{"unicode", "Привіт 👋", "Привіт 👋"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	e := Entry{Role: RoleBot, Text: "\x1b[1mHi\x1b[0m"}
	if got := Format(e); got != "Bot: Hi" {
		t.Errorf("Format = %q", got)
	}
	if Label(RoleUser) != "You" || Label(RoleError) != "Error" {
		t.Error("unexpected labels")
	}
}
