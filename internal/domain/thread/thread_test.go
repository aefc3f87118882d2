package thread

import (
	"testing"
	"time"
)

func seqIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i]
		i++
		return id
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name                          string
		threadID, resourceID, princip string
		want                          Ref
	}{
		{"nothing", "", "", "", Ref{ThreadID: "gen", ResourceID: "gen"}},
		{"principal only", "", "", "user-1", Ref{ThreadID: "gen", ResourceID: "user-1"}},
		{"explicit thread", "t1", "", "user-1", Ref{ThreadID: "t1", ResourceID: "user-1"}},
		{"explicit resource wins over principal", "", "r9", "user-1", Ref{ThreadID: "gen", ResourceID: "r9"}},
		{"both explicit", "t1", "r1", "user-1", Ref{ThreadID: "t1", ResourceID: "r1"}},
		{"explicit thread no principal", "t1", "", "", Ref{ThreadID: "t1", ResourceID: "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.threadID, tt.resourceID, tt.princip, seqIDs("gen"))
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveGeneratesFreshThreads(t *testing.T) {
	gen := seqIDs("a", "b")
	first := Resolve("", "", "user-1", gen)
	second := Resolve("", "", "user-1", gen)
	if first.ThreadID == second.ThreadID {
		t.Fatal("requests without thread context must get private threads")
	}
}

func TestMergeByIDRepairsCreatedAt(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := []Message{
		{ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: ts},
		{ID: "m2", Role: RoleAssistant, Content: "hello", CreatedAt: ts.Add(time.Second)},
	}
	ui := []Message{
		{ID: "m1", Role: RoleUser, Content: "hi"},
		{ID: "m2", Role: RoleAssistant, Content: "hello", CreatedAt: ts.Add(time.Minute)},
		{ID: "m3", Role: RoleAssistant, Content: "orphan"},
	}
	got := MergeByID(raw, ui)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if !got[0].CreatedAt.Equal(ts) {
		t.Errorf("m1 createdAt not repaired: %v", got[0].CreatedAt)
	}
	if !got[1].CreatedAt.Equal(ts.Add(time.Minute)) {
		t.Errorf("m2 createdAt must keep UI value: %v", got[1].CreatedAt)
	}
	if !got[2].CreatedAt.IsZero() {
		t.Errorf("m3 has no raw counterpart: %v", got[2].CreatedAt)
	}
	if !ui[0].CreatedAt.IsZero() {
		t.Error("input slice must not be mutated")
	}
}
