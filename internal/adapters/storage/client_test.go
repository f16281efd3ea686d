package storage

import "testing"

func TestValidateObject(t *testing.T) {
	if err := ValidateObject("application/json; charset=utf-8", 10); err != nil {
		t.Fatalf("json should be allowed: %v", err)
	}
	if err := ValidateObject("image/png", 10); err == nil {
		t.Fatalf("expected image to be rejected")
	}
	if err := ValidateObject("application/json", 0); err == nil {
		t.Fatalf("expected empty object to be rejected")
	}
	if err := ValidateObject("application/json", MaxObjectSize+1); err == nil {
		t.Fatalf("expected oversized object to be rejected")
	}
}
