package fts

import (
	"testing"

	"github.com/user/dictofun-sync/storage"
)

func newTestSink(t *testing.T) (*storage.Sink, *storage.DirStore) {
	t.Helper()
	store, err := storage.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	return storage.NewSink(store, nil), store
}

func commandsOf(actions []Action) []Command {
	var out []Command
	for _, a := range actions {
		if sc, ok := a.(SendCommand); ok {
			out = append(out, sc.Command)
		}
	}
	return out
}

func noticesOf(actions []Action) []Notice {
	var out []Notice
	for _, a := range actions {
		if p, ok := a.(Publish); ok {
			out = append(out, p.Notice)
		}
	}
	return out
}

func hasNotice(actions []Action, kind NoticeKind) bool {
	for _, n := range noticesOf(actions) {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func expectCommands(t *testing.T, actions []Action, want ...Command) {
	t.Helper()
	got := commandsOf(actions)
	if len(got) != len(want) {
		t.Fatalf("Expected commands %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected commands %v, got %v", want, got)
		}
	}
}

func length(n uint32) []byte {
	return EncodeLength(StatusTagOK, n)
}

func countRecordings(t *testing.T, store *storage.DirStore) int {
	t.Helper()
	list, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return len(list)
}
