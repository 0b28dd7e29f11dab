package stage

import (
	"strings"
	"testing"
	"time"
)

func TestParse_LegalLabels(t *testing.T) {
	cases := []struct {
		raw  string
		want Stage
	}{
		{"Stage1", Stage1},
		{"stage3", Stage3},
		{"  STAGE5  ", Stage5},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.raw)
		if !ok || got != tc.want {
			t.Errorf("Parse(%q) = (%v, %v), want (%v, true)", tc.raw, got, ok, tc.want)
		}
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "Stage6", "Stage0", "two", "Stage 2", "relationship building"} {
		if _, ok := Parse(raw); ok {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}

func TestApply_KeepsCurrentOnBadProposal(t *testing.T) {
	if got := Apply(Stage3, "banana"); got != Stage3 {
		t.Errorf("Apply with bad proposal = %v, want Stage3", got)
	}
	if got := Apply(Stage3, "Stage4"); got != Stage4 {
		t.Errorf("Apply with legal proposal = %v, want Stage4", got)
	}
	// Corrupt current stage self-heals to the initial stage.
	if got := Apply(Stage(9), "nope"); got != Stage1 {
		t.Errorf("Apply with invalid current = %v, want Stage1", got)
	}
}

func TestNext_Cyclic(t *testing.T) {
	order := []Stage{Stage1, Stage2, Stage3, Stage4, Stage5}
	for i, s := range order {
		want := order[(i+1)%len(order)]
		if got := s.Next(); got != want {
			t.Errorf("%v.Next() = %v, want %v", s, got, want)
		}
	}
}

func TestDescribe_NamesStageAndSuccessor(t *testing.T) {
	desc := Stage2.Describe()
	if !strings.Contains(desc, "Stage2") || !strings.Contains(desc, "Assessing Concern") {
		t.Errorf("Describe missing stage identity: %q", desc)
	}
	if !strings.Contains(desc, "Stage3") {
		t.Errorf("Describe missing successor: %q", desc)
	}
}

func TestClassify_Gaps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	soft := 15 * time.Minute
	hard := 24 * time.Hour

	cases := []struct {
		name     string
		lastSeen time.Time
		want     Gap
	}{
		{"first turn ever", time.Time{}, GapNone},
		{"two minutes ago", now.Add(-2 * time.Minute), GapNone},
		{"twenty minutes ago", now.Add(-20 * time.Minute), GapSoft},
		{"exactly soft threshold", now.Add(-soft), GapSoft},
		{"three hours ago", now.Add(-3 * time.Hour), GapSoft},
		{"two days ago", now.Add(-48 * time.Hour), GapHard},
		{"exactly hard threshold", now.Add(-hard), GapHard},
		{"clock skew, lastSeen in future", now.Add(time.Hour), GapNone},
	}
	for _, tc := range cases {
		if got := Classify(tc.lastSeen, now, soft, hard); got != tc.want {
			t.Errorf("%s: Classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}
