package storage

import (
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)

	got := ObjectKey("rep_abc123", at)
	want := "reports/rep_abc123/1772437500000.pdf"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestObjectKeyDistinctPerInstant(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)

	first := ObjectKey("rep_abc123", at)
	second := ObjectKey("rep_abc123", at.Add(time.Millisecond))
	if first == second {
		t.Error("successive generations must produce distinct keys")
	}
}
