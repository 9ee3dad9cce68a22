package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	value, ok, err := store.Get("analysisResults")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Get reported a missing key as present")
	}
	if value != nil {
		t.Errorf("Get value = %q, want nil", value)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := []byte(`{"profiles":[{"id":"p-1","name":"default"}]}`)
	if err := store.Put("profiles", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := store.Get("profiles")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get reported a stored key as missing")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get value = %q, want %q", got, want)
	}
}

func TestPutReplacesValue(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("settings", []byte(`{"isAgentMode":false}`)); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	want := []byte(`{"isAgentMode":true}`)
	if err := store.Put("settings", want); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, _, err := store.Get("settings")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get value = %q, want %q", got, want)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("settings", []byte("{}")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete("settings"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("settings"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	_, ok, err := store.Get("settings")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("key still present after Delete")
	}
}

func TestKeysSorted(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{"settings", "analysisResults", "profiles"} {
		if err := store.Put(key, []byte("{}")); err != nil {
			t.Fatalf("Put %q failed: %v", key, err)
		}
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"analysisResults", "profiles", "settings"}
	if len(keys) != len(want) {
		t.Fatalf("Keys length = %d, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Put("analysisResults", []byte(`{"ruleSets":[]}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get("analysisResults")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !ok {
		t.Fatal("data lost across reopen")
	}
	if string(got) != `{"ruleSets":[]}` {
		t.Errorf("Get value = %q, want %q", got, `{"ruleSets":[]}`)
	}
}

func TestOpenBadPathReturnsCodedError(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "migrator.db"))
	if err == nil {
		t.Fatal("Open succeeded with a non-existent parent directory")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeStorageOpenFailed {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeStorageOpenFailed)
	}
}
