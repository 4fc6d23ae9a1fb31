package expr

import (
	"strings"
	"testing"
)

func TestEvaluate_Arithmetic(t *testing.T) {
	eval := NewEvaluator()
	value, err := eval.Evaluate("1 + 2 * 3", nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value != int64(7) {
		t.Errorf("value = %v (%T), want 7", value, value)
	}
}

func TestEvaluate_ContextLookup(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{
		"inputs": map[string]any{"name": "prod"},
		"count":  int64(3),
	}
	value, err := eval.Evaluate(`inputs.name + "-" + string(count)`, ctx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value != "prod-3" {
		t.Errorf("value = %v, want prod-3", value)
	}
}

func TestEvaluate_UndeclaredName(t *testing.T) {
	eval := NewEvaluator()
	_, err := eval.Evaluate("secrets.token", map[string]any{"inputs": map[string]any{}})
	if err == nil {
		t.Fatal("expected error for undeclared name")
	}
	if !strings.Contains(err.Error(), "name not allowed in expression") {
		t.Errorf("error = %v, want name not allowed", err)
	}
}

func TestEvaluate_Empty(t *testing.T) {
	eval := NewEvaluator()
	if _, err := eval.Evaluate("   ", nil); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestEvaluateBool(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{"status": "error", "attempts": int64(2)}

	ok, err := eval.EvaluateBool(`status == "error" && attempts < 3`, ctx)
	if err != nil {
		t.Fatalf("EvaluateBool failed: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}

	if _, err := eval.EvaluateBool("attempts + 1", ctx); err == nil {
		t.Error("expected error for non-boolean result")
	}
}

func TestEvaluateList(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{"items": []any{"a", "b", "c"}}

	list, err := eval.EvaluateList("items", ctx)
	if err != nil {
		t.Fatalf("EvaluateList failed: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Errorf("list = %v", list)
	}

	filtered, err := eval.EvaluateList(`items.filter(x, x != "b")`, ctx)
	if err != nil {
		t.Fatalf("EvaluateList filter failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered = %v, want 2 elements", filtered)
	}

	if _, err := eval.EvaluateList(`"scalar"`, ctx); err == nil {
		t.Error("expected error for scalar result")
	}
}

func TestEvaluate_Helpers(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{"nums": []any{int64(3), int64(1), int64(2)}}

	cases := []struct {
		expr string
		want any
	}{
		{"sum(nums)", float64(6)},
		{"min(nums)", float64(1)},
		{"max(nums)", float64(3)},
		{"len(nums)", int64(3)},
		{`len("hello")`, int64(5)},
		{"abs(-4)", int64(4)},
		{"round(2.6)", int64(3)},
	}
	for _, tc := range cases {
		value, err := eval.Evaluate(tc.expr, ctx)
		if err != nil {
			t.Errorf("%s failed: %v", tc.expr, err)
			continue
		}
		if value != tc.want {
			t.Errorf("%s = %v (%T), want %v", tc.expr, value, value, tc.want)
		}
	}
}

func TestEvaluate_CachesPrograms(t *testing.T) {
	eval := NewEvaluator()
	ctx := map[string]any{"n": int64(1)}

	if _, err := eval.Evaluate("n + 1", ctx); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if _, err := eval.Evaluate("n + 1", ctx); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", eval.CacheSize())
	}

	eval.ClearCache()
	if eval.CacheSize() != 0 {
		t.Errorf("cache size after clear = %d", eval.CacheSize())
	}
}
