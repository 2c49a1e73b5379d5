package validation

import (
	"testing"
)

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"12450", true},
		{"12450.50", true},
		{"0.01", true},
		{"0", true}, // format only; PositiveAmount rejects the zero value

		// Invalid cases
		{"", false},
		{".50", false},
		{"50.", false},
		{"12.4.5", false},
		{"-100", false},
		{"1e6", false},
		{"$500", false},
		{"12,450", false},
	}

	for _, tc := range tests {
		result := IsValidAmount(tc.value)
		if result != tc.valid {
			t.Errorf("IsValidAmount(%q) = %v, want %v", tc.value, result, tc.valid)
		}
	}
}

func TestPositiveAmount(t *testing.T) {
	if err := PositiveAmount("claimed_amt", "500.00")(); err != nil {
		t.Errorf("PositiveAmount(500.00) = %v, want nil", err)
	}
	if err := PositiveAmount("claimed_amt", "0")(); err == nil {
		t.Error("PositiveAmount(0) = nil, want error")
	}
	if err := PositiveAmount("claimed_amt", "0.000")(); err == nil {
		t.Error("PositiveAmount(0.000) = nil, want error")
	}
	// Empty defers to Required
	if err := PositiveAmount("claimed_amt", "")(); err != nil {
		t.Errorf("PositiveAmount(\"\") = %v, want nil", err)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"null\x00byte", 20, "nullbyte"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	errs := Validate(
		Required("policy_id", ""),
		Required("username", "jdoe"),
		PositiveAmount("claimed_amt", "abc"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "policy_id" {
		t.Errorf("first error field = %q, want policy_id", errs[0].Field)
	}
	if errs.Error() == "" {
		t.Error("ValidationErrors.Error() is empty")
	}
}
