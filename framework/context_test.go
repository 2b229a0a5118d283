package framework

import (
	"encoding/json"
	"testing"
)

// TestContextSnapshotRestore round-trips state through a snapshot.
func TestContextSnapshotRestore(t *testing.T) {
	ctx := NewContext()
	ctx.Set("topic", "solar sails")
	ctx.AddInteraction("user", "research solar sails", nil)
	ctx.SetExecutionPhase("gather")

	snap := ctx.Snapshot()

	restored := NewContext()
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.GetString("topic") != "solar sails" {
		t.Fatalf("topic lost: %q", restored.GetString("topic"))
	}
	if restored.ExecutionPhase() != "gather" {
		t.Fatalf("phase lost: %q", restored.ExecutionPhase())
	}
	if len(restored.History()) != 1 {
		t.Fatalf("history lost: %d entries", len(restored.History()))
	}
}

// TestContextCloneIsolation ensures mutations on a clone do not leak back.
func TestContextCloneIsolation(t *testing.T) {
	ctx := NewContext()
	ctx.Set("key", "original")

	clone := ctx.Clone()
	clone.Set("key", "changed")

	if ctx.GetString("key") != "original" {
		t.Fatalf("clone mutation leaked: %q", ctx.GetString("key"))
	}
	if clone.GetString("key") != "changed" {
		t.Fatalf("clone did not record write: %q", clone.GetString("key"))
	}
}

// TestContextHistoryTruncation keeps the first interaction when the history
// cap is exceeded.
func TestContextHistoryTruncation(t *testing.T) {
	ctx := NewContext()
	ctx.maxHistory = 10
	ctx.AddInteraction("user", "original instruction", nil)
	for i := 0; i < 30; i++ {
		ctx.AddInteraction("assistant", "chatter", nil)
	}
	history := ctx.History()
	if len(history) > 11 {
		t.Fatalf("history not truncated: %d entries", len(history))
	}
	if history[0].Content != "original instruction" {
		t.Fatalf("first interaction dropped: %q", history[0].Content)
	}
}

// TestContextJSONRoundTrip exercises the Marshal/Unmarshal pair used by the
// workflow store.
func TestContextJSONRoundTrip(t *testing.T) {
	ctx := NewContext()
	ctx.Set("document_path", "/tmp/doc.md")
	ctx.AddInteraction("assistant", "planned", map[string]interface{}{"node": "plan"})

	data, err := json.Marshal(ctx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	loaded := NewContext()
	if err := json.Unmarshal(data, loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.GetString("document_path") != "/tmp/doc.md" {
		t.Fatalf("state lost after round trip")
	}
}
