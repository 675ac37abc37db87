package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"submit/internal/config"
	"submit/internal/db"
	"submit/internal/domain"
	"submit/internal/engine"
	"submit/internal/migrate"
	"submit/internal/notify"
	"submit/internal/repo"
)

var tokyo = mustLoad("Asia/Tokyo")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Rec    *notify.Recorder
	clock  *time.Time
}

func (env testEnv) setNow(t time.Time) { *env.clock = t }

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &notify.Recorder{}
	eng := engine.New(conn, config.Default(), rec, nil)
	clock := time.Date(2025, 1, 6, 10, 0, 0, 0, tokyo)
	eng.Now = func() time.Time { return clock }
	eng.Sleep = func(time.Duration) {}
	return testEnv{Engine: eng, Ctx: ctx, Rec: rec, clock: &clock}
}

// pledgedUser creates a user who passed the pledge gate, linked to lineID
// when non-empty.
func (env testEnv) pledgedUser(t *testing.T, email, lineID string) domain.User {
	t.Helper()
	u, err := env.Engine.EnsureUser(env.Ctx, email, "tester")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := env.Engine.Pledge(env.Ctx, u.ID, engine.PledgeOptions{
		PledgeText: "I will submit", AgreedToTerms: true, AgreedToPenalty: true, AgreedToLine: true,
	}); err != nil {
		t.Fatalf("pledge: %v", err)
	}
	if lineID != "" {
		if u, err = env.Engine.LinkLine(env.Ctx, u.ID, lineID); err != nil {
			t.Fatalf("link line: %v", err)
		}
	}
	return u
}

func (env testEnv) dailyProject(t *testing.T, userID, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		UserID: userID, Name: name, Frequency: domain.FrequencyDaily,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) submit(t *testing.T, userID, projectID string) domain.Submission {
	t.Helper()
	res, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		UserID: userID, ProjectID: projectID, Content: "done",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res.Submission
}

func endOfDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), tokyo)
}

func TestCreateProjectSchedulesFirstPeriod(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	if p.NextJudgmentDate == nil || !p.NextJudgmentDate.Equal(endOfDay(2025, 1, 7)) {
		t.Fatalf("next judgment %v", p.NextJudgmentDate)
	}
	if p.PenaltyAmount != 1000 || p.Status != domain.ProjectActive {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	day := 1
	w, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{UserID: u.ID, Name: "Gym", JudgmentDay: &day})
	if err != nil {
		t.Fatal(err)
	}
	// Monday 2025-01-06 rolls to the following Monday.
	if w.Frequency != domain.FrequencyWeekly || !w.NextJudgmentDate.Equal(endOfDay(2025, 1, 13)) {
		t.Fatalf("weekly project %s %v", w.Frequency, w.NextJudgmentDate)
	}
}

func TestCreateProjectRejections(t *testing.T) {
	env := newTestEnv(t)
	fresh, err := env.Engine.EnsureUser(env.Ctx, "new@example.com", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{UserID: fresh.ID, Name: "x"}); !errors.Is(err, engine.ErrPledgeRequired) {
		t.Fatalf("expected pledge required, got %v", err)
	}
	u := env.pledgedUser(t, "a@example.com", "")
	low, zero := 50, 0
	cases := map[string]engine.ProjectCreateOptions{
		"empty name":        {UserID: u.ID, Name: "  "},
		"long name":         {UserID: u.ID, Name: strings.Repeat("n", 101)},
		"unknown frequency": {UserID: u.ID, Name: "x", Frequency: "hourly"},
		"custom no days":    {UserID: u.ID, Name: "x", Frequency: domain.FrequencyCustom},
		"custom zero days":  {UserID: u.ID, Name: "x", Frequency: domain.FrequencyCustom, CustomDays: &zero},
		"low penalty":       {UserID: u.ID, Name: "x", PenaltyAmount: &low},
	}
	for name, opts := range cases {
		var verr *engine.ValidationError
		if _, err := env.Engine.CreateProject(env.Ctx, opts); !errors.As(err, &verr) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestJudgmentSubmitted(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	p := env.dailyProject(t, u.ID, "Blog")

	env.setNow(time.Date(2025, 1, 7, 12, 0, 0, 0, tokyo))
	s := env.submit(t, u.ID, p.ID)
	if s.SequenceNum != 1 {
		t.Fatalf("sequence %d", s.SequenceNum)
	}
	env.Rec.Reset()

	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	sum, err := env.Engine.RunJudgment(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (engine.JudgmentSummary{Processed: 1, Submitted: 1}) {
		t.Fatalf("summary %+v", sum)
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if !got.NextJudgmentDate.Equal(endOfDay(2025, 1, 8)) || got.MissedCount != 0 || got.TotalPenaltyAmount != 0 {
		t.Fatalf("project after judgment %+v", got)
	}
	pens, _ := env.Engine.ListPenalties(env.Ctx, u.ID, "", 0)
	if len(pens) != 0 {
		t.Fatalf("unexpected penalties %+v", pens)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || msgs[0].To != "U1" || msgs[0].Text != notify.JudgmentSuccess("Blog") {
		t.Fatalf("messages %+v", msgs)
	}
}

func TestJudgmentMissed(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	p := env.dailyProject(t, u.ID, "Blog")

	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	sum, err := env.Engine.RunJudgment(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (engine.JudgmentSummary{Processed: 1, Missed: 1}) {
		t.Fatalf("summary %+v", sum)
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if got.MissedCount != 1 || got.TotalPenaltyAmount != 1000 {
		t.Fatalf("aggregates %+v", got)
	}
	pens, _ := env.Engine.ListPenalties(env.Ctx, u.ID, domain.PenaltyPending, 0)
	if len(pens) != 1 || pens[0].Amount != 1000 || pens[0].Reason != "Blog - 2025-01-07 not submitted" {
		t.Fatalf("penalties %+v", pens)
	}
	logs, _ := env.Engine.ListJudgments(env.Ctx, u.ID, p.ID, 0)
	if len(logs) != 1 || logs[0].Submitted || !logs[0].PenaltyExecuted || logs[0].PenaltyAmount == nil || *logs[0].PenaltyAmount != 1000 {
		t.Fatalf("judgment logs %+v", logs)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || msgs[0].Text != notify.JudgmentFailed("Blog", 1000) {
		t.Fatalf("messages %+v", msgs)
	}
}

func TestJudgmentFailureNotificationRespectsUrgentPref(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	off := false
	if _, err := env.Engine.UpdateProfile(env.Ctx, u.ID, engine.ProfileUpdateOptions{NotifyUrgent: &off}); err != nil {
		t.Fatal(err)
	}
	env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if msgs := env.Rec.Messages(); len(msgs) != 0 {
		t.Fatalf("expected no messages, got %+v", msgs)
	}
}

func TestJudgmentIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.RunJudgment(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Processed != 0 {
		t.Fatalf("second run processed %d", sum.Processed)
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if got.MissedCount != 1 {
		t.Fatalf("missed %d", got.MissedCount)
	}
}

func TestJudgmentRepairsStuckSchedule(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	periodEnd := *p.NextJudgmentDate
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash that logged the judgment but left the schedule behind.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET next_judgment_date=? WHERE id=?`, repo.TS(periodEnd), p.ID); err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.RunJudgment(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (engine.JudgmentSummary{Processed: 1, Skipped: 1}) {
		t.Fatalf("summary %+v", sum)
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if !got.NextJudgmentDate.Equal(endOfDay(2025, 1, 8)) {
		t.Fatalf("schedule not repaired: %v", got.NextJudgmentDate)
	}
	if got.MissedCount != 1 || got.TotalPenaltyAmount != 1000 {
		t.Fatalf("penalty charged twice: %+v", got)
	}
	pens, _ := env.Engine.ListPenalties(env.Ctx, u.ID, "", 0)
	if len(pens) != 1 {
		t.Fatalf("penalties %d", len(pens))
	}
}

func TestJudgmentCatchesUpMissedPeriods(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 10, 0, 5, 0, 0, tokyo))
	runs := 0
	for {
		sum, err := env.Engine.RunJudgment(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if sum.Processed == 0 {
			break
		}
		runs++
		if runs > 10 {
			t.Fatal("judgment never caught up")
		}
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if runs != 3 || got.MissedCount != 3 || got.TotalPenaltyAmount != 3000 {
		t.Fatalf("runs %d project %+v", runs, got)
	}
	if !got.NextJudgmentDate.Equal(endOfDay(2025, 1, 10)) {
		t.Fatalf("next %v", got.NextJudgmentDate)
	}
}

func TestJudgmentPeriodBoundaries(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")

	// Last instant of the first period, then first instant of the second.
	env.setNow(endOfDay(2025, 1, 7))
	env.submit(t, u.ID, p.ID)
	env.setNow(time.Date(2025, 1, 9, 0, 0, 0, 0, tokyo))
	env.submit(t, u.ID, p.ID)

	env.setNow(time.Date(2025, 1, 10, 0, 5, 0, 0, tokyo))
	var total engine.JudgmentSummary
	for i := 0; i < 3; i++ {
		sum, err := env.Engine.RunJudgment(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		total.Processed += sum.Processed
		total.Submitted += sum.Submitted
		total.Missed += sum.Missed
	}
	// Jan 7 submitted, Jan 8 missed, Jan 9 submitted.
	if total != (engine.JudgmentSummary{Processed: 3, Submitted: 2, Missed: 1}) {
		t.Fatalf("summary %+v", total)
	}
	logs, _ := env.Engine.ListJudgments(env.Ctx, u.ID, p.ID, 0)
	if len(logs) != 3 || logs[1].Submitted || !logs[1].JudgmentDate.Equal(endOfDay(2025, 1, 8)) {
		t.Fatalf("logs %+v", logs)
	}
}

func TestJudgeProjectRejectsOpenPeriod(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	var verr *engine.ValidationError
	if _, err := env.Engine.JudgeProject(env.Ctx, p.ID); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	out, err := env.Engine.JudgeProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Submitted || out.PenaltyAmount != 1000 || !out.PeriodStart.Equal(time.Date(2025, 1, 6, 0, 0, 0, 0, tokyo)) {
		t.Fatalf("outcome %+v", out)
	}
}

func TestPausedProjectsAreNotJudged(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	paused := domain.ProjectPaused
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, Status: &paused}); err != nil {
		t.Fatal(err)
	}
	env.setNow(time.Date(2025, 1, 20, 0, 5, 0, 0, tokyo))
	sum, err := env.Engine.RunJudgment(env.Ctx)
	if err != nil || sum.Processed != 0 {
		t.Fatalf("paused project judged: %+v %v", sum, err)
	}
	active := domain.ProjectActive
	got, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, Status: &active})
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextJudgmentDate.Equal(endOfDay(2025, 1, 21)) {
		t.Fatalf("resume re-seed %v", got.NextJudgmentDate)
	}
}

func TestUpdateProjectPenaltyRules(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	amount := 2000
	got, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, PenaltyAmount: &amount})
	if err != nil || got.PenaltyAmount != 2000 {
		t.Fatalf("update penalty: %+v %v", got, err)
	}
	var verr *engine.ValidationError
	low := 99
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, PenaltyAmount: &low}); !errors.As(err, &verr) {
		t.Fatalf("expected min penalty error, got %v", err)
	}
	paused := domain.ProjectPaused
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, Status: &paused}); err != nil {
		t.Fatal(err)
	}
	amount = 3000
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, PenaltyAmount: &amount}); !errors.As(err, &verr) {
		t.Fatalf("expected inactive penalty error, got %v", err)
	}
	other := env.pledgedUser(t, "b@example.com", "")
	if _, err := env.Engine.GetProject(env.Ctx, other.ID, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign project visible: %v", err)
	}
	evts, err := env.Engine.ProjectEvents(env.Ctx, u.ID, p.ID, 0)
	if err != nil || len(evts) < 3 {
		t.Fatalf("events %d %v", len(evts), err)
	}
}

func TestSubmissionSequenceUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	const m = 10
	var wg sync.WaitGroup
	seqs := make(chan int, m)
	errs := make(chan error, m)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
				UserID: u.ID, ProjectID: p.ID, Content: fmt.Sprintf("entry %d", i),
			})
			if err != nil {
				errs <- err
				return
			}
			seqs <- res.Submission.SequenceNum
		}(i)
	}
	wg.Wait()
	close(seqs)
	close(errs)
	for err := range errs {
		t.Fatalf("submit: %v", err)
	}
	seen := map[int]bool{}
	for s := range seqs {
		if seen[s] || s < 1 || s > m {
			t.Fatalf("bad sequence %d", s)
		}
		seen[s] = true
	}
	if len(seen) != m {
		t.Fatalf("got %d sequences", len(seen))
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if got.SubmissionCount != m {
		t.Fatalf("submission count %d", got.SubmissionCount)
	}
}

func TestSubmissionMessageIDDedup(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	p := env.dailyProject(t, u.ID, "Blog")
	opts := engine.SubmissionCreateOptions{UserID: u.ID, ProjectID: p.ID, Content: "done", LineMessageID: "m-1"}
	first, err := env.Engine.CreateSubmission(env.Ctx, opts)
	if err != nil || first.Duplicate || !first.Notified {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := env.Engine.CreateSubmission(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.Submission.ID != first.Submission.ID {
		t.Fatalf("second: %+v", second)
	}
	got, _ := env.Engine.GetProject(env.Ctx, u.ID, p.ID)
	if got.SubmissionCount != 1 {
		t.Fatalf("submission count %d", got.SubmissionCount)
	}
}

func TestSubmissionRules(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	p := env.dailyProject(t, u.ID, "Blog")
	var verr *engine.ValidationError
	if _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{UserID: u.ID, ProjectID: p.ID, Content: "  "}); !errors.As(err, &verr) {
		t.Fatalf("expected empty content error, got %v", err)
	}
	archived := domain.ProjectArchived
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{UserID: u.ID, ID: p.ID, Status: &archived}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{UserID: u.ID, ProjectID: p.ID, Content: "x"}); !errors.As(err, &verr) {
		t.Fatalf("expected archived error, got %v", err)
	}
}

func TestChatMessageRouting(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U-unknown", MessageID: "m0", Text: "hi", ReplyToken: "r0"})
	if err != nil || res.Action != engine.ChatUnlinked {
		t.Fatalf("unlinked: %+v %v", res, err)
	}
	if msgs := env.Rec.Messages(); len(msgs) != 1 || msgs[0].Kind != "reply" || msgs[0].Text != notify.LinkAccountRequired() {
		t.Fatalf("messages %+v", msgs)
	}

	u := env.pledgedUser(t, "a@example.com", "U1")
	res, _ = env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m1", Text: "hi", ReplyToken: "r1"})
	if res.Action != engine.ChatNoProject {
		t.Fatalf("no project: %+v", res)
	}

	blog := env.dailyProject(t, u.ID, "Blog")
	res, err = env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m2", Text: "wrote a post", ReplyToken: "r2"})
	if err != nil || res.Action != engine.ChatSubmitted || res.ProjectID != blog.ID {
		t.Fatalf("single project: %+v %v", res, err)
	}

	diary := env.dailyProject(t, u.ID, "Diary")
	env.Rec.Reset()
	res, _ = env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m3", Text: "done", ReplyToken: "r3"})
	if res.Action != engine.ChatAskProject {
		t.Fatalf("ambiguous: %+v", res)
	}
	if msgs := env.Rec.Messages(); len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Diary") {
		t.Fatalf("ask reply %+v", msgs)
	}
	res, _ = env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m4", Text: "DIARY entry", ReplyToken: "r4"})
	if res.Action != engine.ChatSubmitted || res.ProjectID != diary.ID {
		t.Fatalf("name match: %+v", res)
	}
	res, _ = env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m4", Text: "DIARY entry", ReplyToken: "r5"})
	if res.Action != engine.ChatDuplicate || res.Submission == nil || res.Submission.SequenceNum != 1 {
		t.Fatalf("duplicate: %+v", res)
	}
}

func TestChatRequiresPledge(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.Engine.EnsureUser(env.Ctx, "a@example.com", "")
	if _, err := env.Engine.LinkLine(env.Ctx, u.ID, "U1"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.HandleChatMessage(env.Ctx, engine.ChatMessage{LineUserID: "U1", MessageID: "m1", Text: "x", ReplyToken: "r1"})
	if err != nil || res.Action != engine.ChatPledgeRequired {
		t.Fatalf("%+v %v", res, err)
	}
}

func TestLineEventsUnfollowUnlinks(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	env.dailyProject(t, u.ID, "Blog")
	evts := []notify.WebhookEvent{
		{Type: "follow"},
		{Type: "message", ReplyToken: "r1", Message: &notify.EventMessage{ID: "m1", Type: "text", Text: "done"}},
		{Type: "unfollow"},
	}
	evts[0].Source.UserID = "U1"
	evts[1].Source.UserID = "U1"
	evts[2].Source.UserID = "U1"
	sum := env.Engine.HandleLineEvents(env.Ctx, evts)
	if sum.Processed != 3 || len(sum.Errors) != 0 {
		t.Fatalf("summary %+v", sum)
	}
	got, _ := env.Engine.GetUser(env.Ctx, u.ID)
	if got.LineLinked() {
		t.Fatalf("still linked")
	}
	subs, _ := env.Engine.ListSubmissions(env.Ctx, u.ID, "", 0)
	if len(subs) != 1 {
		t.Fatalf("submissions %d", len(subs))
	}
}

func TestReminders(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	quiet := env.pledgedUser(t, "b@example.com", "")
	blog := env.dailyProject(t, u.ID, "Blog")
	env.dailyProject(t, quiet.ID, "Quiet")

	env.setNow(time.Date(2025, 1, 7, 8, 0, 0, 0, tokyo))
	sum, err := env.Engine.RunMorningReminder(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (engine.ReminderSummary{Sent: 1, Skipped: 1}) {
		t.Fatalf("morning %+v", sum)
	}
	if msgs := env.Rec.Messages(); len(msgs) != 1 || msgs[0].Text != notify.MorningReminder([]string{"Blog"}) {
		t.Fatalf("morning messages %+v", msgs)
	}

	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 7, 20, 0, 0, 0, tokyo))
	sum, _ = env.Engine.RunEveningReminder(env.Ctx)
	if sum.Sent != 1 {
		t.Fatalf("evening before submission %+v", sum)
	}
	if msgs := env.Rec.Messages(); !strings.Contains(msgs[0].Text, "¥1,000") {
		t.Fatalf("evening text %q", msgs[0].Text)
	}
	env.submit(t, u.ID, blog.ID)
	env.Rec.Reset()
	sum, _ = env.Engine.RunEveningReminder(env.Ctx)
	if sum.Sent != 0 || len(env.Rec.Messages()) != 0 {
		t.Fatalf("evening after submission %+v", sum)
	}
}

func TestUrgentReminderSummarizesUndeliveredMisses(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	env.dailyProject(t, u.ID, "Blog")
	env.dailyProject(t, u.ID, "Diary")
	env.Rec.Fail = map[string]bool{"U1": true}
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.Rec.Fail = nil
	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 8, 0, 15, 0, 0, tokyo))
	sum, err := env.Engine.RunUrgentReminder(env.Ctx)
	if err != nil || sum.Sent != 1 {
		t.Fatalf("urgent %+v %v", sum, err)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Total: ¥2,000") {
		t.Fatalf("urgent messages %+v", msgs)
	}
	logs, _ := env.Engine.ListJudgments(env.Ctx, u.ID, "", 0)
	for _, l := range logs {
		if l.NotifiedAt == nil {
			t.Fatalf("judgment %s not stamped", l.ID)
		}
	}

	// A retrigger inside the same hour finds nothing left to send.
	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 8, 0, 45, 0, 0, tokyo))
	sum, _ = env.Engine.RunUrgentReminder(env.Ctx)
	if sum.Sent != 0 || len(env.Rec.Messages()) != 0 {
		t.Fatalf("urgent re-sent: %+v %+v", sum, env.Rec.Messages())
	}
}

func TestMissedJudgmentIsPushedOnce(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "U1")
	env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.setNow(time.Date(2025, 1, 8, 0, 15, 0, 0, tokyo))
	sum, err := env.Engine.RunUrgentReminder(env.Ctx)
	if err != nil || sum.Sent != 0 {
		t.Fatalf("urgent %+v %v", sum, err)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || msgs[0].Text != notify.JudgmentFailed("Blog", 1000) {
		t.Fatalf("expected one judgment message, got %+v", msgs)
	}
}

func TestUrgentReminderPicksUpLateLinks(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.LinkLine(env.Ctx, u.ID, "U1"); err != nil {
		t.Fatal(err)
	}
	env.setNow(time.Date(2025, 1, 8, 6, 0, 0, 0, tokyo))
	sum, _ := env.Engine.RunUrgentReminder(env.Ctx)
	if sum.Sent != 1 {
		t.Fatalf("late link missed: %+v", sum)
	}
	// Misses older than a day are not chased.
	env.Rec.Reset()
	env.dailyProject(t, u.ID, "Diary")
	env.Rec.Fail = map[string]bool{"U1": true}
	env.setNow(time.Date(2025, 1, 10, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.Rec.Fail = nil
	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 11, 6, 0, 0, 0, tokyo))
	if sum, _ := env.Engine.RunUrgentReminder(env.Ctx); sum.Sent != 0 {
		t.Fatalf("stale misses sent: %+v", sum)
	}
}

func TestPledgeGate(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.Engine.EnsureUser(env.Ctx, "A@Example.com", "")
	if u.Email != "a@example.com" {
		t.Fatalf("email %q", u.Email)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.Pledge(env.Ctx, u.ID, engine.PledgeOptions{PledgeText: "x", AgreedToTerms: true}); !errors.As(err, &verr) {
		t.Fatalf("partial agreement accepted: %v", err)
	}
	opts := engine.PledgeOptions{PledgeText: "x", AgreedToTerms: true, AgreedToPenalty: true, AgreedToLine: true}
	if _, err := env.Engine.Pledge(env.Ctx, u.ID, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Pledge(env.Ctx, u.ID, opts); !errors.As(err, &verr) {
		t.Fatalf("second pledge accepted: %v", err)
	}
	ok, p, err := env.Engine.PledgeStatus(env.Ctx, u.ID)
	if err != nil || !ok || p == nil || p.PledgeText != "x" {
		t.Fatalf("status %v %+v %v", ok, p, err)
	}
}

func TestLinkLineConflict(t *testing.T) {
	env := newTestEnv(t)
	env.pledgedUser(t, "a@example.com", "U1")
	b := env.pledgedUser(t, "b@example.com", "")
	if _, err := env.Engine.LinkLine(env.Ctx, b.ID, "U1"); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	var verr *engine.ValidationError
	bad := "Mars/Base"
	if _, err := env.Engine.UpdateProfile(env.Ctx, b.ID, engine.ProfileUpdateOptions{Timezone: &bad}); !errors.As(err, &verr) {
		t.Fatalf("bad timezone accepted: %v", err)
	}
}

func TestPenaltyStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	pens, _ := env.Engine.ListPenalties(env.Ctx, u.ID, "", 0)
	if len(pens) != 1 {
		t.Fatalf("penalties %d", len(pens))
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.UpdatePenaltyStatus(env.Ctx, pens[0].ID, "refunded", "", "ops"); !errors.As(err, &verr) {
		t.Fatalf("unknown status accepted: %v", err)
	}
	got, err := env.Engine.UpdatePenaltyStatus(env.Ctx, pens[0].ID, domain.PenaltyCompleted, "pi_123", "ops")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.PenaltyCompleted || got.PaymentRef == nil || *got.PaymentRef != "pi_123" {
		t.Fatalf("penalty %+v", got)
	}
}

func TestPenaltyStatusRollsBackWithEvent(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	env.dailyProject(t, u.ID, "Blog")
	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.RunJudgment(env.Ctx); err != nil {
		t.Fatal(err)
	}
	pens, _ := env.Engine.ListPenalties(env.Ctx, u.ID, "", 0)
	if len(pens) != 1 {
		t.Fatalf("penalties %d", len(pens))
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_penalty_event BEFORE INSERT ON events
WHEN NEW.type = 'penalty.status' BEGIN SELECT RAISE(ABORT, 'event store down'); END`); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdatePenaltyStatus(env.Ctx, pens[0].ID, domain.PenaltyCompleted, "pi_123", "ops"); err == nil {
		t.Fatal("expected event failure")
	}
	got, err := env.Engine.Repo.GetPenalty(env.Ctx, pens[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != pens[0].Status || got.PaymentRef != nil {
		t.Fatalf("status changed without its event: %+v", got)
	}
}

func TestMemos(t *testing.T) {
	env := newTestEnv(t)
	u := env.pledgedUser(t, "a@example.com", "")
	other := env.pledgedUser(t, "b@example.com", "")
	m, err := env.Engine.CreateMemo(env.Ctx, u.ID, " idea ", "", []string{" a ", ""})
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "idea" || m.Type != "text" || len(m.Tags) != 1 || m.Tags[0] != "a" {
		t.Fatalf("memo %+v", m)
	}
	if err := env.Engine.DeleteMemo(env.Ctx, other.ID, m.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := env.Engine.DeleteMemo(env.Ctx, u.ID, m.ID); err != nil {
		t.Fatal(err)
	}
	memos, _ := env.Engine.ListMemos(env.Ctx, u.ID, 0)
	if len(memos) != 0 {
		t.Fatalf("memos %d", len(memos))
	}
}
