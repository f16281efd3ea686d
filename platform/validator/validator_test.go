package validator

import "testing"

type syncWindow struct {
	StartDate string `validate:"required,ymd"`
	EndDate   string `validate:"required,ymd"`
}

func TestYMDTag(t *testing.T) {
	v := New()
	if err := v.Struct(syncWindow{StartDate: "2025-01-31", EndDate: "2025-02-01"}); err != nil {
		t.Fatalf("expected valid dates, got %v", err)
	}

	err := v.Struct(syncWindow{StartDate: "31/01/2025", EndDate: ""})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	got := Describe(err)
	if len(got) != 2 || got[0] != "startDate: ymd" || got[1] != "endDate: required" {
		t.Fatalf("unexpected description %v", got)
	}
}
