package validator

import "testing"

func TestRequiredFieldMissing(t *testing.T) {
	v := New()
	checker, err := v.Compile(map[string]any{
		"amount": map[string]any{"type": "number", "required": true},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	errs := checker.Check([]byte(`{}`))
	if len(errs) != 1 || errs[0].Field != "amount" {
		t.Fatalf("expected one error for missing amount, got %v", errs)
	}
}

func TestTypeMismatch(t *testing.T) {
	v := New()
	checker, _ := v.Compile(map[string]any{
		"name": map[string]any{"type": "string"},
	})
	errs := checker.Check([]byte(`{"name": 5}`))
	if len(errs) != 1 {
		t.Fatalf("expected type mismatch error, got %v", errs)
	}
}

func TestValidParamsPass(t *testing.T) {
	v := New()
	checker, _ := v.Compile(map[string]any{
		"a": map[string]any{"type": "number", "required": true},
		"b": map[string]any{"type": "number", "required": true},
	})
	if errs := checker.Check([]byte(`{"a": 1, "b": 2}`)); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
