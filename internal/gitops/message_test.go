package gitops

import (
	"strings"
	"testing"
)

func TestParseMessageResponse(t *testing.T) {
	msg, err := parseMessageResponse(`{"subject": "Merge issue-1: fix auth", "body": "Details here."}`)
	if err != nil {
		t.Fatalf("parseMessageResponse() error = %v", err)
	}
	if msg.Subject != "Merge issue-1: fix auth" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.Body != "Details here." {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestParseMessageResponseStripsCodeFence(t *testing.T) {
	text := "Here is the message:\n```json\n{\"subject\": \"s\", \"body\": \"b\"}\n```\n"
	msg, err := parseMessageResponse(text)
	if err != nil {
		t.Fatalf("parseMessageResponse() error = %v", err)
	}
	if msg.Subject != "s" || msg.Body != "b" {
		t.Errorf("got %+v", msg)
	}
}

func TestParseMessageResponseRejectsGarbage(t *testing.T) {
	if _, err := parseMessageResponse("not json at all"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestParseMessageResponseRejectsEmptySubject(t *testing.T) {
	if _, err := parseMessageResponse(`{"subject": "", "body": "b"}`); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestFallbackMessage(t *testing.T) {
	msg := FallbackMessage(MessageRequest{
		IssueID:      "issue-42",
		IssueTitle:   "Add retry logic",
		ChangedFiles: []string{"retry.go", "retry_test.go"},
	})

	if !strings.HasPrefix(msg, "Merge issue-42: Add retry logic") {
		t.Errorf("unexpected subject: %q", msg)
	}
	if !strings.Contains(msg, "- retry.go\n") || !strings.Contains(msg, "- retry_test.go\n") {
		t.Errorf("changed files missing from body: %q", msg)
	}
}

func TestFallbackMessageTruncatesLongSubject(t *testing.T) {
	msg := FallbackMessage(MessageRequest{
		IssueID:    "issue-1",
		IssueTitle: strings.Repeat("x", 100),
	})

	subject := strings.SplitN(msg, "\n", 2)[0]
	if len(subject) != 72 {
		t.Errorf("subject length = %d, want 72", len(subject))
	}
	if !strings.HasSuffix(subject, "...") {
		t.Errorf("truncated subject should end with ellipsis: %q", subject)
	}
}

func TestFallbackMessageNoFiles(t *testing.T) {
	msg := FallbackMessage(MessageRequest{IssueID: "issue-1", IssueTitle: "t"})
	if strings.Contains(msg, "Changed files") {
		t.Errorf("empty change set should omit file list: %q", msg)
	}
}
