package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestPutGetRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Put("u1", []byte("hello"), "executions", "exec_1", "started.json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := a.Get("u1", "executions", "exec_1", "started.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}
}

func TestGlobalPrefixBypassesUserScope(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Put("", []byte("log"), "mcp_logs", "req_1.json"); err != nil {
		t.Fatalf("Put global: %v", err)
	}
	want := filepath.Join(a.baseDir, "mcp_logs", "req_1.json")
	data, err := a.Get("", "mcp_logs", "req_1.json")
	if err != nil {
		t.Fatalf("Get global: %v", err)
	}
	if string(data) != "log" {
		t.Errorf("unexpected content")
	}
	path, err := a.resolve("", []string{"mcp_logs", "req_1.json"})
	if err != nil || path != want {
		t.Errorf("resolve() = %q, %v; want %q", path, err, want)
	}
}

func TestNonGlobalRequiresUserID(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Put("", []byte("x"), "executions", "e1"); err == nil {
		t.Error("expected error when user_id is missing for a non-global path")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.Get("u1", "executions", "missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingReturnsErrNotFound(t *testing.T) {
	a := newTestAdapter(t)
	err := a.Delete("u1", "executions", "missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing: err = %v, want ErrNotFound", err)
	}
}

func TestAppendNeverOverwrites(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Append("u1", []byte("a"), "audit", "2026-07-30.jsonl"); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := a.Append("u1", []byte("b"), "audit", "2026-07-30.jsonl"); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	got, err := a.Get("u1", "audit", "2026-07-30.jsonl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "ab" {
		t.Errorf("Get = %q, want %q", got, "ab")
	}
}

func TestListMissingDirReturnsEmptySet(t *testing.T) {
	a := newTestAdapter(t)
	names, err := a.List("u1", "executions")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List = %v, want empty", names)
	}
}

func TestListReturnsSortedNames(t *testing.T) {
	a := newTestAdapter(t)
	_ = a.Put("u1", []byte("1"), "executions", "b.json")
	_ = a.Put("u1", []byte("1"), "executions", "a.json")
	names, err := a.List("u1", "executions")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "a.json" || names[1] != "b.json" {
		t.Errorf("List = %v, want [a.json b.json]", names)
	}
}

func TestDeleteTreeResult(t *testing.T) {
	a := newTestAdapter(t)
	_ = a.Put("u1", []byte("1"), "executions", "e1", "started.json")
	res := a.DeleteTree("u1", "executions", "e1")
	if !res.OK || res.Cause != nil {
		t.Errorf("DeleteTree = %+v, want OK", res)
	}
	exists, err := a.Exists("u1", "executions", "e1", "started.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected tree to be removed")
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.Get("u1", "..", "secret"); err == nil {
		t.Error("expected error for path traversal segment")
	}
}
