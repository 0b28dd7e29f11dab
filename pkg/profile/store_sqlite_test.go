package profile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"), 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSanitizeUserID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"alice@example.com", "alice_example_com"},
		{"  bob smith ", "bob_smith"},
		{"123abc", "user_123abc"},
		{"", "anonymous_user"},
		{"under_score-ok", "under_score-ok"},
	}
	for _, tc := range cases {
		if got := SanitizeUserID(tc.in); got != tc.want {
			t.Errorf("SanitizeUserID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGetOrCreate_FirstContactDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.GetOrCreate(ctx, "new-user")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if p.CurrentStage != 1 {
		t.Errorf("CurrentStage = %d, want 1", p.CurrentStage)
	}
	if !p.ConsentUnset() {
		t.Error("fresh profile should have unset consent")
	}
	if p.HasConsent() {
		t.Error("fresh profile should not report consent")
	}
	if len(p.Instructions) != 0 {
		t.Errorf("fresh profile should have no instructions, got %v", p.Instructions)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	consent := true
	p := &UserProfile{
		UserID:        "alice",
		Username:      "Alice",
		Consent:       &consent,
		CurrentStage:  3,
		Instructions:  []string{"keep replies short"},
		RunningNotes:  "working on sleep routine",
		SessionParams: map[string]string{"history": "[]"},
		LastSeenMS:    12345,
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.HasConsent() {
		t.Error("consent not persisted")
	}
	if loaded.CurrentStage != 3 {
		t.Errorf("CurrentStage = %d, want 3", loaded.CurrentStage)
	}
	if len(loaded.Instructions) != 1 || loaded.Instructions[0] != "keep replies short" {
		t.Errorf("Instructions = %v", loaded.Instructions)
	}
	if loaded.RunningNotes != "working on sleep routine" {
		t.Errorf("RunningNotes = %q", loaded.RunningNotes)
	}
	if loaded.SessionParams["history"] != "[]" {
		t.Errorf("SessionParams = %v", loaded.SessionParams)
	}
	if loaded.LastSeenMS != 12345 {
		t.Errorf("LastSeenMS = %d", loaded.LastSeenMS)
	}
}

func TestSetConsent_Decline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.SetConsent(ctx, "bob", false, "Bob")
	if err != nil {
		t.Fatalf("set consent: %v", err)
	}
	if p.ConsentUnset() {
		t.Error("consent should be recorded")
	}
	if p.HasConsent() {
		t.Error("declined consent should not report true")
	}
	if p.Username != "Bob" {
		t.Errorf("Username = %q, want Bob", p.Username)
	}
}

func TestAddInstruction_DedupAndCap(t *testing.T) {
	p := &UserProfile{}

	if !p.AddInstruction("call me Sam", 3) {
		t.Error("first add should succeed")
	}
	if p.AddInstruction("call me Sam", 3) {
		t.Error("exact duplicate should be rejected")
	}
	if p.AddInstruction("  ", 3) {
		t.Error("blank instruction should be rejected")
	}

	p.AddInstruction("second", 3)
	p.AddInstruction("third", 3)
	p.AddInstruction("fourth", 3)
	if len(p.Instructions) != 3 {
		t.Fatalf("expected cap at 3, got %d", len(p.Instructions))
	}
	if p.Instructions[0] != "second" {
		t.Errorf("oldest instruction should be dropped first, got %v", p.Instructions)
	}
}

func TestCoerceInstructions_LegacyShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{`["a","b"]`, []string{"a", "b"}},
		{`"just one"`, []string{"just one"}},
		{`plain text`, []string{"plain text"}},
		{``, []string{}},
		{`null`, []string{}},
		{`[" padded ", ""]`, []string{"padded"}},
	}
	for _, tc := range cases {
		got := coerceInstructions("u", tc.raw)
		if len(got) != len(tc.want) {
			t.Errorf("coerceInstructions(%q) = %v, want %v", tc.raw, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("coerceInstructions(%q)[%d] = %q, want %q", tc.raw, i, got[i], tc.want[i])
			}
		}
	}
}

func TestSave_TrimsInstructionsPastCap(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"), 5)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	p, err := store.GetOrCreate(ctx, "capped")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	for i := 0; i < 8; i++ {
		p.Instructions = append(p.Instructions, fmt.Sprintf("instruction %d", i))
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "capped")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Instructions) != 5 {
		t.Fatalf("expected 5 instructions after trim, got %d", len(loaded.Instructions))
	}
	if loaded.Instructions[0] != "instruction 3" {
		t.Errorf("expected oldest entries dropped, got %v", loaded.Instructions)
	}
}

func TestGet_SanitizesLookupKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "carol@example.com"); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	p, err := store.Get(ctx, "carol@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.UserID != "carol_example_com" {
		t.Errorf("UserID = %q, want sanitized form", p.UserID)
	}
}
