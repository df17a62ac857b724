package pending

import "testing"

func TestResolveRemovesEntry(t *testing.T) {
	r := New[string]()

	calls := 0
	var got string
	r.Register("a:join", func(v string) {
		calls++
		got = v
		if r.Has("a:join") {
			t.Fatalf("entry should be removed before the callback runs")
		}
	})

	if !r.Resolve("a:join", "ok") {
		t.Fatalf("expected first resolve to hit")
	}
	if r.Resolve("a:join", "dup") {
		t.Fatalf("expected duplicate resolve to miss")
	}
	if calls != 1 || got != "ok" {
		t.Fatalf("expected exactly one call with ok, got %d calls with %q", calls, got)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestResolveSuffix(t *testing.T) {
	r := New[int]()
	hit := false
	r.Register("123:join", func(int) { hit = true })

	if r.ResolveSuffix("123:join", "leave", 0) {
		t.Fatalf("expected purpose mismatch to miss")
	}
	if !r.ResolveSuffix("123:join", "join", 0) || !hit {
		t.Fatalf("expected purpose match to resolve")
	}
}

func TestRegisterNilIsIgnored(t *testing.T) {
	r := New[int]()
	r.Register("x", nil)
	if r.Has("x") {
		t.Fatalf("nil callback should not be registered")
	}
}

func TestClearAndRemove(t *testing.T) {
	r := New[int]()
	r.Register("a", func(int) {})
	r.Register("b", func(int) {})

	r.Remove("a")
	if r.Has("a") || !r.Has("b") {
		t.Fatalf("unexpected registry contents after remove")
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected clear to drop everything")
	}
}
