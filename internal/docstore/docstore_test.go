package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{path: "tenants/acme", collection: "tenants", id: "acme"},
		{path: "tenants/acme/cells/c1_2025-01-01", collection: "tenants/acme/cells", id: "c1_2025-01-01"},
		{path: "/tenants/acme/", collection: "tenants", id: "acme"},
		{path: "tenants", wantErr: true},
		{path: "tenants/acme/cells", wantErr: true},
		{path: "tenants//cells/x", wantErr: true},
	}
	for _, tc := range cases {
		collection, id, err := Split(tc.path)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("Split(%q) expected ErrInvalidPath, got %v", tc.path, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Split(%q) unexpected error: %v", tc.path, err)
		}
		if collection != tc.collection || id != tc.id {
			t.Fatalf("Split(%q) = (%q, %q), want (%q, %q)", tc.path, collection, id, tc.collection, tc.id)
		}
	}
}

func TestResolveAndMerge(t *testing.T) {
	now := time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)
	resolved := Resolve(map[string]any{
		"lastSeen": ServerTimestamp,
		"gone":     DeleteField,
		"nested":   map[string]any{"at": ServerTimestamp},
	}, now)

	if resolved["lastSeen"] != now.UnixMilli() {
		t.Fatalf("expected server timestamp to resolve, got %v", resolved["lastSeen"])
	}
	if _, ok := resolved["gone"]; ok {
		t.Fatalf("expected DeleteField to drop the key")
	}
	if Map(resolved, "nested")["at"] != now.UnixMilli() {
		t.Fatalf("expected nested timestamp to resolve")
	}

	merged := Merge(map[string]any{"a": "1", "b": "2"}, map[string]any{"b": DeleteField, "c": ServerTimestamp}, now)
	if _, ok := merged["b"]; ok {
		t.Fatalf("expected b removed")
	}
	if merged["a"] != "1" || merged["c"] != now.UnixMilli() {
		t.Fatalf("unexpected merge result %v", merged)
	}
}

func TestNormalizeKeepsIntegerMillis(t *testing.T) {
	data, err := Normalize(map[string]any{"expiresAt": int64(1757930400123), "slots": []string{"morning"}})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if _, ok := data["expiresAt"].(json.Number); !ok {
		t.Fatalf("expected json.Number, got %T", data["expiresAt"])
	}
	if Int64(data, "expiresAt") != 1757930400123 {
		t.Fatalf("unexpected millis %d", Int64(data, "expiresAt"))
	}
	if got := Strings(data, "slots"); len(got) != 1 || got[0] != "morning" {
		t.Fatalf("unexpected slots %v", got)
	}
}

func TestSignatureIgnoresFilterOrder(t *testing.T) {
	a := Query{Collection: "tenants/acme/cells", Filters: []Filter{Where("date", OpGte, "2025-01-01"), Where("kind", OpEq, "edit")}}
	b := Query{Collection: "/tenants/acme/cells/", Filters: []Filter{Where("kind", OpEq, "edit"), Where("date", OpGte, "2025-01-01")}}
	if a.Signature() != b.Signature() {
		t.Fatalf("expected equal signatures: %q vs %q", a.Signature(), b.Signature())
	}
	c := a
	c.Limit = 10
	if c.Signature() == a.Signature() {
		t.Fatalf("expected limit to change the signature")
	}
}

func TestApplyFiltersOrdersAndLimits(t *testing.T) {
	docs := []Document{
		{ID: "d1", Data: map[string]any{"date": "2025-01-03", "n": json.Number("3")}},
		{ID: "d2", Data: map[string]any{"date": "2025-01-01", "n": json.Number("1")}},
		{ID: "d3", Data: map[string]any{"date": "2025-02-01", "n": json.Number("9")}},
		{ID: "d4", Data: map[string]any{"date": "2025-01-02", "n": json.Number("2"), "actif": false}},
	}
	q := Query{
		Filters: []Filter{Where("date", OpGte, "2025-01-01"), Where("date", OpLte, "2025-01-31")},
		OrderBy: "n",
	}
	got := Apply(q, docs)
	if len(got) != 3 || got[0].ID != "d2" || got[1].ID != "d4" || got[2].ID != "d1" {
		t.Fatalf("unexpected order %v", ids(got))
	}

	q.Descending = true
	q.Limit = 1
	got = Apply(q, docs)
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("unexpected limited result %v", ids(got))
	}

	in := Apply(Query{Filters: []Filter{Where("n", OpIn, []any{1, 9})}}, docs)
	if len(in) != 2 || in[0].ID != "d2" || in[1].ID != "d3" {
		t.Fatalf("unexpected in-filter result %v", ids(in))
	}

	neq := Apply(Query{Filters: []Filter{Where("actif", OpNeq, false)}}, docs)
	if len(neq) != 3 {
		t.Fatalf("expected documents without actif=false, got %v", ids(neq))
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestNotifierDeliversInitialAndChangedSnapshots(t *testing.T) {
	var mu sync.Mutex
	version := 1
	run := func(ctx context.Context, q Query) (Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		docs := make([]Document, version)
		return Snapshot{Collection: q.Collection, Docs: docs}, nil
	}
	n := NewNotifier(run, nil)
	defer n.Close()

	seen := make(chan int, 8)
	cancel := n.Add(Query{Collection: "tenants/acme/sessions"}, func(s Snapshot) { seen <- s.Len() })

	expectLen(t, seen, 1)

	mu.Lock()
	version = 2
	mu.Unlock()
	n.Notify("tenants/acme/cells")
	n.Notify("tenants/acme/sessions")
	expectLen(t, seen, 2)

	cancel()
	if n.Len() != 0 {
		t.Fatalf("expected subscription removed")
	}
}

func expectLen(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected snapshot of %d docs, got %d", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]bool{
		"database is locked":                  true,
		"read tcp: connection reset by peer":  true,
		"rpc error: code = Unavailable":       true,
		"UNIQUE constraint failed: docs.path": false,
		"docstore: not found":                 false,
		"syntax error":                        false,
	}
	for msg, want := range cases {
		if got := IsTransient(errors.New(msg)); got != want {
			t.Fatalf("IsTransient(%q) = %v, want %v", msg, got, want)
		}
	}
	if IsTransient(context.Canceled) {
		t.Fatalf("cancellation must not be transient")
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}

	attempts := 0
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond}

	attempts := 0
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond}

	attempts := 0
	transient := errors.New("network is unreachable")
	err := WithRetry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
