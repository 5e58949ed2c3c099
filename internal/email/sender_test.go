package email

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestNewSMTPSender_Defaults(t *testing.T) {
	s := NewSMTPSender("", "")
	if s.Addr != "localhost:1025" {
		t.Fatalf("expected default addr localhost:1025, got %s", s.Addr)
	}
	if s.From != "no-reply@analogous.app" {
		t.Fatalf("expected default from no-reply@analogous.app, got %s", s.From)
	}
}

func TestStdoutSender_Send(t *testing.T) {
	s := StdoutSender{}
	if err := s.Send("user@example.com", "Test subject", "<p>Test</p>"); err != nil {
		t.Fatalf("StdoutSender.Send returned error: %v", err)
	}
}

func TestSMTPSender_Send_EmptyRecipient(t *testing.T) {
	s := NewSMTPSender("localhost:1025", "from@example.com")
	if err := s.Send("", "subj", "body"); err == nil {
		t.Fatalf("expected error when recipient is empty")
	}
}

// Test that a local mail catcher is available and that we can send an
// email via SMTP and then clean up via the API.
func TestSMTPSender_MailCatcher_SendAndCleanup(t *testing.T) {
	client := &http.Client{Timeout: 2 * time.Second}
	_ = doMailCatcherDelete(client)

	sender := NewSMTPSender("localhost:1025", "test-from@example.com")
	if err := sender.Send("recipient@example.com", "Test mail catcher", "<p>Hello</p>"); err != nil {
		t.Skipf("local SMTP not available or send failed: %v", err)
	}

	// Give the catcher a moment to accept the message
	time.Sleep(200 * time.Millisecond)

	resp, err := client.Get("http://localhost:8025/api/v2/messages")
	if err != nil {
		resp, err = client.Get("http://localhost:8025/api/v1/messages")
		if err != nil {
			t.Skipf("mail catcher HTTP API not available: %v", err)
		}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Skipf("mail catcher API returned non-200: %d", resp.StatusCode)
	}

	var payload map[string]any
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &payload)

	if err := doMailCatcherDelete(client); err != nil {
		t.Fatalf("failed to clean up mail catcher messages: %v", err)
	}
}

func doMailCatcherDelete(client *http.Client) error {
	req, _ := http.NewRequest("DELETE", "http://localhost:8025/api/v1/messages", nil)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}
