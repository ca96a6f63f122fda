package main

import "testing"

func TestParseMetricFlag(t *testing.T) {
	in, err := parseMetricFlag("Backlog Orders=30@orders")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Name != "Backlog Orders" || in.Value == nil || *in.Value != 30 || in.Unit != "orders" {
		t.Fatalf("unexpected metric: %+v", in)
	}

	in, err = parseMetricFlag("Root Cause=Supplier delay")
	if err != nil {
		t.Fatalf("parse text: %v", err)
	}
	if in.Value != nil || in.Text != "Supplier delay" {
		t.Fatalf("expected text metric, got %+v", in)
	}

	for _, bad := range []string{"", "novalue", "=3"} {
		if _, err := parseMetricFlag(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseAPIKeys(t *testing.T) {
	keys, err := parseAPIKeys([]string{"k1=ingest-bot", " k2 = planner "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if keys["k1"] != "ingest-bot" || keys["k2"] != "planner" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if _, err := parseAPIKeys([]string{"k3"}); err == nil {
		t.Fatal("expected error for key without actor")
	}
}

func TestParseDue(t *testing.T) {
	due, err := parseDue("2024-01-01T12:00:00Z")
	if err != nil || due.Hour() != 12 {
		t.Fatalf("parse due: %v %v", due, err)
	}
	if d, err := parseDue(""); err != nil || !d.IsZero() {
		t.Fatalf("empty due should be zero: %v %v", d, err)
	}
	if _, err := parseDue("tomorrow"); err == nil {
		t.Fatal("expected error for non-RFC3339 due")
	}
}
