package audit

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"
)

func TestWriteDecisionsCSV(t *testing.T) {
	rows := []DecisionRow{
		{
			At:          time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
			PrincipalID: 42,
			Class:       "company_user",
			CompanyID:   3,
			Resource:    "content",
			Action:      "approve",
			Outcome:     "deny",
			Reason:      "missing permission",
		},
		{
			At:          time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC),
			PrincipalID: 1,
			Class:       "super_user",
			Outcome:     "deny",
		},
	}

	var buf bytes.Buffer
	if err := WriteDecisionsCSV(&buf, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "At" || records[0][7] != "Reason" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][3] != "3" {
		t.Fatalf("expected company column 3, got %q", records[1][3])
	}
	// Platform-level rows leave the company column empty.
	if records[2][3] != "" {
		t.Fatalf("expected empty company column, got %q", records[2][3])
	}
	if records[1][0] != "2026-03-10T10:00:00Z" {
		t.Fatalf("unexpected timestamp: %q", records[1][0])
	}
}
