package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "WARN", "error"} {
		l, err := New(lvl)
		if err != nil {
			t.Fatalf("%s: %v", lvl, err)
		}
		_ = l.Sync()
	}
	if _, err := New("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
