package coordinator

import (
	"testing"
	"time"
)

func TestSnapshot_Accessors(t *testing.T) {
	tests := []struct {
		name      string
		snap      Snapshot
		wantZero  bool
		wantStale bool
	}{
		{
			name:     "initial",
			snap:     *emptySnapshot(),
			wantZero: true,
		},
		{
			name: "fresh",
			snap: Snapshot{Properties: map[string]any{"electricLevel": int64(87)}, FetchedAt: time.Now(), Success: true},
		},
		{
			name:      "stale",
			snap:      Snapshot{Properties: map[string]any{"electricLevel": int64(87)}, FetchedAt: time.Now()},
			wantStale: true,
		},
		{
			name: "failed without data",
			snap: Snapshot{Properties: map[string]any{}, FetchedAt: time.Now()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.IsZero(); got != tt.wantZero {
				t.Errorf("IsZero() = %v, want %v", got, tt.wantZero)
			}
			if got := tt.snap.Stale(); got != tt.wantStale {
				t.Errorf("Stale() = %v, want %v", got, tt.wantStale)
			}
		})
	}
}

func TestSnapshot_Names(t *testing.T) {
	snap := Snapshot{Properties: map[string]any{
		"outputHomePower": int64(312),
		"electricLevel":   int64(87),
		"hyperTmp":        2981.5,
	}}

	names := snap.Names()
	want := []string{"electricLevel", "hyperTmp", "outputHomePower"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if v, ok := snap.Get("hyperTmp"); !ok || v != 2981.5 {
		t.Errorf("Get(hyperTmp) = %v, %v", v, ok)
	}
	if _, ok := snap.Get("missing"); ok {
		t.Error("Get(missing) should report absent")
	}
}
