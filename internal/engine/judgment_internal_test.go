package engine

import (
	"context"
	"testing"
	"time"

	"submit/internal/config"
	"submit/internal/db"
	"submit/internal/domain"
	"submit/internal/migrate"
	"submit/internal/notify"
)

// A run holding a snapshot taken before another run judged the project
// must not judge the period again.
func TestJudgeSkipsStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatal(err)
	}
	e := New(conn, config.Default(), &notify.Recorder{}, nil)
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return clock }
	e.Sleep = func(time.Duration) {}

	u, err := e.EnsureUser(ctx, "a@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Pledge(ctx, u.ID, PledgeOptions{PledgeText: "x", AgreedToTerms: true, AgreedToPenalty: true, AgreedToLine: true}); err != nil {
		t.Fatal(err)
	}
	p, err := e.CreateProject(ctx, ProjectCreateOptions{UserID: u.ID, Name: "Blog", Frequency: domain.FrequencyDaily})
	if err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(72 * time.Hour)
	snapshot, err := e.Repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	owner, _ := e.Repo.GetUser(ctx, u.ID)

	first, err := e.judge(ctx, snapshot, owner)
	if err != nil || first.Skipped {
		t.Fatalf("first judgment: %+v %v", first, err)
	}
	second, err := e.judge(ctx, snapshot, owner)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Skipped || second.Repaired {
		t.Fatalf("stale judgment not skipped: %+v", second)
	}
	got, _ := e.Repo.GetProject(ctx, p.ID)
	if got.MissedCount != 1 {
		t.Fatalf("missed %d", got.MissedCount)
	}
}

func TestMatchProject(t *testing.T) {
	active := []domain.Project{{ID: "1", Name: "Blog"}, {ID: "2", Name: "Blog Extra"}, {ID: "3", Name: "Diary"}}
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"diary day 3", "3", true},
		{"blog extra post", "", false},
		{"nothing", "", false},
	}
	for _, c := range cases {
		got, ok := matchProject(active, c.text)
		if ok != c.ok || got.ID != c.want {
			t.Errorf("%q: got %q %v", c.text, got.ID, ok)
		}
	}
	if got, ok := matchProject(active[:1], "anything"); !ok || got.ID != "1" {
		t.Errorf("sole project not chosen")
	}
}
