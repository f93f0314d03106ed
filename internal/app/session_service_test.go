package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestCreateSessionGeneratesDistinctCodes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		session, err := svc.CreateSession(ctx, hostInput())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if len(session.Code) != 6 {
			t.Fatalf("expected 6-char code, got %q", session.Code)
		}
		if session.Code != strings.ToUpper(session.Code) {
			t.Fatalf("expected uppercase code, got %q", session.Code)
		}
		if strings.ContainsAny(session.Code, "0O1IL") {
			t.Fatalf("code %q uses a confusable character", session.Code)
		}
		if seen[session.Code] {
			t.Fatalf("code %q issued twice", session.Code)
		}
		seen[session.Code] = true
		if session.State != domain.StateWaiting {
			t.Fatalf("expected waiting state, got %q", session.State)
		}
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cases := []struct {
		name string
		in   app.CreateSessionInput
		want domain.Kind
	}{
		{"empty title", app.CreateSessionInput{Selector: allQuestions(), TimerSeconds: 30, HostUserID: "teacher-1"}, domain.KindValidation},
		{"timer too small", app.CreateSessionInput{Title: "Quiz", Selector: allQuestions(), TimerSeconds: 2, HostUserID: "teacher-1"}, domain.KindValidation},
		{"timer too large", app.CreateSessionInput{Title: "Quiz", Selector: allQuestions(), TimerSeconds: 500, HostUserID: "teacher-1"}, domain.KindValidation},
		{"zero count", app.CreateSessionInput{Title: "Quiz", Selector: domain.QuestionSelector{Count: 0}, TimerSeconds: 30, HostUserID: "teacher-1"}, domain.KindValidation},
		{"unknown ids", app.CreateSessionInput{Title: "Quiz", Selector: domain.QuestionSelector{QuestionIDs: []string{"nope"}}, TimerSeconds: 30, HostUserID: "teacher-1"}, domain.KindValidation},
		{"no matches", app.CreateSessionInput{Title: "Quiz", Selector: domain.QuestionSelector{Category: "geology", Count: 3}, TimerSeconds: 30, HostUserID: "teacher-1"}, domain.KindValidation},
		{"student host", app.CreateSessionInput{Title: "Quiz", Selector: allQuestions(), TimerSeconds: 30, HostUserID: "student-1"}, domain.KindAuthorization},
	}
	for _, tc := range cases {
		_, err := svc.CreateSession(ctx, tc.in)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if domain.KindOf(err) != tc.want {
			t.Fatalf("%s: expected kind %v, got %v (%v)", tc.name, tc.want, domain.KindOf(err), err)
		}
	}
}

func TestJoinIsIdempotentAndRejectsLateJoins(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)

	first, err := svc.Join(ctx, session.Code, "student-1", "")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if first.Score != 0 || first.DisplayName != "Alice" {
		t.Fatalf("unexpected participant %+v", first)
	}

	again, err := svc.Join(ctx, strings.ToLower(session.Code), "student-1", "Someone Else")
	if err != nil {
		t.Fatalf("re-join failed: %v", err)
	}
	if again.JoinedAt != first.JoinedAt || again.DisplayName != first.DisplayName {
		t.Fatalf("re-join returned a different record: %+v vs %+v", again, first)
	}

	if _, err := svc.Start(ctx, session.Code, "teacher-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// A seated participant can reconnect after start.
	if _, err := svc.Join(ctx, session.Code, "student-1", ""); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	// A new user cannot join once the game is running.
	_, err = svc.Join(ctx, session.Code, "student-2", "")
	if !errors.Is(err, domain.ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}
	roster, _ := svc.ListParticipants(ctx, session.Code)
	if len(roster) != 1 {
		t.Fatalf("late join must not create a participant, roster=%d", len(roster))
	}
}

func TestStartPreconditions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)

	if _, err := svc.Start(ctx, session.Code, "teacher-1"); !errors.Is(err, domain.ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}

	mustJoin(t, svc, session.Code, "student-1")

	if _, err := svc.Start(ctx, session.Code, "student-1"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	summary, err := svc.Start(ctx, session.Code, "teacher-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if summary.State != domain.StateActive || summary.StartedAt == nil {
		t.Fatalf("expected active session with start time, got %+v", summary)
	}

	if _, err := svc.Start(ctx, session.Code, "teacher-1"); !errors.Is(err, domain.ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}
}

func TestEndLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")

	if _, err := svc.End(ctx, session.Code, "teacher-1"); !errors.Is(err, domain.ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}

	mustStart(t, svc, session.Code)

	summary, err := svc.End(ctx, session.Code, "teacher-1")
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if summary.State != domain.StateEnded || summary.EndedAt == nil {
		t.Fatalf("expected ended session, got %+v", summary)
	}
	if summary.StartedAt.After(*summary.EndedAt) {
		t.Fatalf("startedAt %v after endedAt %v", summary.StartedAt, summary.EndedAt)
	}

	if _, err := svc.End(ctx, session.Code, "teacher-1"); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestQuestionSetHidesAnswerKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")

	if _, err := svc.QuestionSet(ctx, session.Code, "student-1"); !errors.Is(err, domain.ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted before start, got %v", err)
	}

	mustStart(t, svc, session.Code)

	if _, err := svc.QuestionSet(ctx, session.Code, "student-2"); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	set, err := svc.QuestionSet(ctx, session.Code, "student-1")
	if err != nil {
		t.Fatalf("question set failed: %v", err)
	}
	if len(set) != len(session.QuestionIDs) {
		t.Fatalf("expected %d questions, got %d", len(session.QuestionIDs), len(set))
	}
	for i, q := range set {
		if q.ID != session.QuestionIDs[i] {
			t.Fatalf("question order broken at %d: %q vs %q", i, q.ID, session.QuestionIDs[i])
		}
	}

	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leaked := range []string{"correctAnswer", "explanation"} {
		if strings.Contains(string(payload), leaked) {
			t.Fatalf("question payload leaks %q: %s", leaked, payload)
		}
	}
}

func TestSubmitAnswerScoresAndRecordsLedger(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")
	mustStart(t, svc, session.Code)

	// q1 is true; 20 of 30 seconds left gives 100 + 100*20/30 = 166.
	result, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 20)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !result.IsCorrect || result.PointsAwarded != 166 || result.TotalScore != 166 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Explanation == "" {
		t.Fatalf("expected explanation after submission")
	}

	// Wrong answer earns nothing.
	result, err = svc.SubmitAnswer(ctx, session.Code, "student-1", "q2", true, 30)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.IsCorrect || result.PointsAwarded != 0 || result.TotalScore != 166 {
		t.Fatalf("unexpected result %+v", result)
	}

	entries := store.LedgerEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Amount != 166 || entries[0].ActivityType != domain.ActivityQuiz {
		t.Fatalf("unexpected ledger entry %+v", entries[0])
	}
	if store.TotalPoints("student-1") != 166 {
		t.Fatalf("expected lifetime total 166, got %d", store.TotalPoints("student-1"))
	}
}

func TestSubmitAnswerIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")
	mustStart(t, svc, session.Code)

	first, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 30)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Flipping the answer on a retry changes nothing.
	second, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", false, 5)
	if !errors.Is(err, domain.ErrQuestionAnswered) {
		t.Fatalf("expected ErrQuestionAnswered, got %v", err)
	}
	if !second.AlreadyAnswered {
		t.Fatalf("expected alreadyAnswered flag")
	}
	if second.IsCorrect != first.IsCorrect || second.PointsAwarded != first.PointsAwarded || second.TotalScore != first.TotalScore {
		t.Fatalf("duplicate result diverged: %+v vs %+v", second, first)
	}
	if len(store.LedgerEntries()) != 1 {
		t.Fatalf("duplicate submission must not append to the ledger")
	}
}

func TestSubmitAnswerStateAndInputChecks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")

	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 10); !errors.Is(err, domain.ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}

	mustStart(t, svc, session.Code)

	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "bogus", true, 10); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-2", "q1", true, 10); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := svc.End(ctx, session.Code, "teacher-1"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 10); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded after end, got %v", err)
	}
}

func TestSubmitAnswerClampsReportedTime(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")
	mustStart(t, svc, session.Code)

	// A spoofed countdown cannot earn above the per-question maximum.
	result, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 9999)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if max := app.MaxAward(app.DefaultScore, session.TimerSeconds); result.PointsAwarded != max {
		t.Fatalf("expected clamped award %d, got %d", max, result.PointsAwarded)
	}
}

func TestLeaderboardTieBreaksByJoinOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")
	mustJoin(t, svc, session.Code, "student-2")
	mustJoin(t, svc, session.Code, "student-3")
	mustStart(t, svc, session.Code)

	// student-2 answers first but both end up with identical scores.
	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-2", "q1", true, 0); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 0); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	lb, err := svc.Leaderboard(ctx, session.Code)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb.Entries))
	}
	if lb.Entries[0].UserID != "student-1" || lb.Entries[1].UserID != "student-2" {
		t.Fatalf("tie must rank the earlier joiner first: %+v", lb.Entries)
	}
	if lb.Entries[0].Rank != 1 || lb.Entries[1].Rank != 2 || lb.Entries[2].Rank != 3 {
		t.Fatalf("ranks must be dense: %+v", lb.Entries)
	}

	// Successive polls with no writes see identical ordering.
	again, err := svc.Leaderboard(ctx, session.Code)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	for i := range lb.Entries {
		if lb.Entries[i] != again.Entries[i] {
			t.Fatalf("ordering jitter at %d: %+v vs %+v", i, lb.Entries[i], again.Entries[i])
		}
	}
}

func TestParticipantAnswerRestoresResult(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	session := mustCreate(t, svc)
	mustJoin(t, svc, session.Code, "student-1")
	mustStart(t, svc, session.Code)

	if _, err := svc.ParticipantAnswer(ctx, session.Code, "student-1", "q1"); !errors.Is(err, domain.ErrAnswerNotFound) {
		t.Fatalf("expected ErrAnswerNotFound, got %v", err)
	}

	submitted, err := svc.SubmitAnswer(ctx, session.Code, "student-1", "q1", true, 15)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	restored, err := svc.ParticipantAnswer(ctx, session.Code, "student-1", "q1")
	if err != nil {
		t.Fatalf("participant answer failed: %v", err)
	}
	if restored.PointsAwarded != submitted.PointsAwarded || !restored.AlreadyAnswered {
		t.Fatalf("restored result diverged: %+v vs %+v", restored, submitted)
	}
}

func TestSessionsByHost(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	first := mustCreate(t, svc)
	second := mustCreate(t, svc)

	summaries, err := svc.SessionsByHost(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(summaries))
	}
	codes := map[string]bool{first.Code: true, second.Code: true}
	for _, s := range summaries {
		if !codes[s.Code] {
			t.Fatalf("unexpected session %+v", s)
		}
	}
}

func newTestService(t *testing.T) (*app.SessionService, *memory.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	bank := memory.NewQuestionBank(testQuestions())
	users := memory.NewUserDirectory(
		domain.User{ID: "teacher-1", DisplayName: "Ms. Rivera", Role: domain.RoleTeacher},
		domain.User{ID: "student-1", DisplayName: "Alice", Role: domain.RoleStudent},
		domain.User{ID: "student-2", DisplayName: "Bob", Role: domain.RoleStudent},
		domain.User{ID: "student-3", DisplayName: "Carol", Role: domain.RoleStudent},
	)

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	svc := app.NewSessionService(store, bank, users,
		app.WithClock(clock),
		app.WithRand(rand.New(rand.NewSource(42))),
	)
	return svc, store
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "The Sun is a star.", CorrectAnswer: true, Explanation: "It is a G-type star.", Category: "science", Difficulty: "easy"},
		{ID: "q2", Text: "Sound travels faster than light.", CorrectAnswer: false, Explanation: "Light is much faster.", Category: "science", Difficulty: "easy"},
		{ID: "q3", Text: "Water boils at 100C at sea level.", CorrectAnswer: true, Explanation: "At one atmosphere.", Category: "science", Difficulty: "easy"},
	}
}

func allQuestions() domain.QuestionSelector {
	return domain.QuestionSelector{QuestionIDs: []string{"q1", "q2", "q3"}}
}

func hostInput() app.CreateSessionInput {
	return app.CreateSessionInput{
		Title:        "Science Showdown",
		Selector:     allQuestions(),
		TimerSeconds: 30,
		HostUserID:   "teacher-1",
	}
}

func mustCreate(t *testing.T, svc *app.SessionService) domain.Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), hostInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return session
}

func mustJoin(t *testing.T, svc *app.SessionService, code, userID string) {
	t.Helper()
	if _, err := svc.Join(context.Background(), code, userID, ""); err != nil {
		t.Fatalf("join %s failed: %v", userID, err)
	}
}

func mustStart(t *testing.T, svc *app.SessionService, code string) {
	t.Helper()
	if _, err := svc.Start(context.Background(), code, "teacher-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
}
