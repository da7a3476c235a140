package main

import (
	"bytes"
	"strings"
	"testing"

	"teamline/internal/domain"
)

func TestRenderEventsTable(t *testing.T) {
	var buf bytes.Buffer
	renderEventsTable(&buf, []domain.Event{
		{ID: 7, TS: "2024-01-01T00:00:00Z", Type: "project.created", ProjectID: "p1", ActorID: "u1"},
		{ID: 8, TS: "2024-01-02T00:00:00Z", Type: "task.status_changed", ProjectID: "p1", ActorID: "u2"},
	})
	out := buf.String()
	for _, want := range []string{"project.created", "task.status_changed", "p1", "u2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}
}
