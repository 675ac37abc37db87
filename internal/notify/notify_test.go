package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLineClientPush(t *testing.T) {
	var gotAuth, gotPath string
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewLineClient(srv.URL, "tok", nil)
	if !c.Push(context.Background(), "U1", "hello") {
		t.Fatalf("expected push to succeed")
	}
	if gotAuth != "Bearer tok" || gotPath != "/v2/bot/message/push" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if got.To != "U1" || len(got.Messages) != 1 || got.Messages[0].Text != "hello" || got.Messages[0].Type != "text" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestLineClientReplyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		http.Error(w, `{"message":"Invalid reply token"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewLineClient(srv.URL, "tok", nil)
	if c.Reply(context.Background(), "rt", "hi") {
		t.Fatalf("expected reply failure to report false")
	}
}

func TestLineClientWithoutToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()
	c := NewLineClient(srv.URL, "", nil)
	if c.Push(context.Background(), "U1", "x") {
		t.Fatalf("expected false without token")
	}
	if called {
		t.Fatalf("no request expected without token")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := Sign("secret", body)
	if !VerifySignature("secret", body, sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature("other", body, sig) {
		t.Fatalf("wrong secret accepted")
	}
	if VerifySignature("secret", []byte(`{"events":[{}]}`), sig) {
		t.Fatalf("tampered body accepted")
	}
	if VerifySignature("secret", body, "") || VerifySignature("", body, sig) {
		t.Fatalf("empty signature or secret accepted")
	}
	if VerifySignature("secret", body, "short") {
		t.Fatalf("length mismatch accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	wb, err := ParseWebhook([]byte(`{"destination":"x","events":[{"type":"message","replyToken":"rt","source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"text","text":"done"}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Events) != 1 || wb.Events[0].Message == nil || wb.Events[0].Message.ID != "m1" || wb.Events[0].Source.UserID != "U1" {
		t.Fatalf("unexpected webhook %+v", wb)
	}
	if _, err := ParseWebhook([]byte("{")); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestTemplates(t *testing.T) {
	if got := SubmissionConfirmation("Blog", 7); !strings.HasSuffix(got, "Blog #007") {
		t.Fatalf("unexpected confirmation %q", got)
	}
	if got := Yen(1234567); got != "¥1,234,567" {
		t.Fatalf("unexpected yen %q", got)
	}
	if MorningReminder(nil) != "" || EveningReminder(nil) != "" || UrgentReminder(nil) != "" {
		t.Fatalf("empty reminders should be empty")
	}
	urgent := UrgentReminder([]Item{{Name: "A", PenaltyAmount: 1000}, {Name: "B", PenaltyAmount: 500}})
	if !strings.Contains(urgent, "- A: ¥1,000") || !strings.HasSuffix(urgent, "Total: ¥1,500") {
		t.Fatalf("unexpected urgent %q", urgent)
	}
	evening := EveningReminder([]Item{{Name: "A", PenaltyAmount: 3000}})
	if !strings.Contains(evening, "A (not submitted: ¥3,000)") {
		t.Fatalf("unexpected evening %q", evening)
	}
	if got := JudgmentFailed("A", 1000); !strings.Contains(got, "Penalty: ¥1,000") {
		t.Fatalf("unexpected failed %q", got)
	}
}

func TestPartnerTemplates(t *testing.T) {
	got := SupporterMissed("Aki", "Blog", 1500)
	for _, want := range []string{"Aki missed a deadline", "Blog: not submitted", "Penalty: ¥1,500"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	if got := CheerReceived("Ren", "you can do it"); !strings.HasSuffix(got, "you can do it") || !strings.Contains(got, "Cheer from Ren") {
		t.Fatalf("cheer %q", got)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{Fail: map[string]bool{"bad": true}}
	if !r.Push(context.Background(), "U1", "a") {
		t.Fatalf("expected success")
	}
	if r.Reply(context.Background(), "bad", "b") {
		t.Fatalf("expected failure")
	}
	msgs := r.Messages()
	if len(msgs) != 2 || msgs[0].Kind != "push" || msgs[1].Kind != "reply" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	r.Reset()
	if len(r.Messages()) != 0 {
		t.Fatalf("reset did not clear")
	}
}
