package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailhook/mailhook/internal/email"
)

// staticPolicy implements hook.DomainPolicy over a fixed allow-set.
type staticPolicy struct {
	domains []string
}

func (p *staticPolicy) AllowedDomains(_ context.Context) ([]string, error) {
	return p.domains, nil
}

// recordingRunner captures pipeline invocations.
type recordingRunner struct {
	mu         sync.Mutex
	recipients []string
	lastMsg    *email.Message
}

func (r *recordingRunner) Run(_ context.Context, recipient string, msg *email.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients = append(r.recipients, recipient)
	r.lastMsg = msg
}

func (r *recordingRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recipients...)
}

// connPair creates a connected pair of net.Conn for testing SMTP sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	return client, server
}

// readLine reads a line from a buffered reader.
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// sendCmd sends a command to the SMTP session.
func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	_, err := conn.Write([]byte(cmd + "\r\n"))
	if err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

// startSession wires a session over a fresh conn pair and returns the
// client-side reader with the greeting consumed.
func startSession(t *testing.T, policy *staticPolicy, runner Runner) (net.Conn, *bufio.Reader) {
	t.Helper()

	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	sess := NewSession(server, policy, runner, "mail.test.com", defaultMaxMessageSize, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	readLine(t, reader) // Skip greeting
	return client, reader
}

// ehlo performs the EHLO exchange, discarding capability lines.
func ehlo(t *testing.T, client net.Conn, reader *bufio.Reader) {
	t.Helper()
	sendCmd(t, client, "EHLO client.test.com")
	for {
		line := readLine(t, reader)
		if !strings.HasPrefix(line, "250-") {
			break
		}
	}
}

func TestSession_Greeting(t *testing.T) {
	t.Parallel()

	client, server := connPair(t)
	defer client.Close()

	sess := NewSession(server, &staticPolicy{}, &recordingRunner{}, "mail.test.com", defaultMaxMessageSize, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	greeting := readLine(t, reader)

	if !strings.HasPrefix(greeting, "220 ") {
		t.Errorf("greeting: got %q, want prefix '220 '", greeting)
	}
	if !strings.Contains(greeting, "mail.test.com") {
		t.Errorf("greeting should contain hostname, got %q", greeting)
	}
}

func TestSession_EHLO_NoAuthAdvertised(t *testing.T) {
	t.Parallel()

	client, server := connPair(t)
	defer client.Close()

	sess := NewSession(server, &staticPolicy{}, &recordingRunner{}, "mail.test.com", defaultMaxMessageSize, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	readLine(t, reader) // Skip greeting

	sendCmd(t, client, "EHLO client.test.com")

	var ehloLines []string
	for {
		line := readLine(t, reader)
		ehloLines = append(ehloLines, line)
		if !strings.HasPrefix(line, "250-") {
			break
		}
	}

	foundSize := false
	for _, line := range ehloLines {
		if strings.Contains(line, "AUTH") {
			t.Errorf("AUTH must not be advertised, got %q", line)
		}
		if strings.Contains(line, "SIZE") {
			foundSize = true
		}
	}
	if !foundSize {
		t.Error("EHLO response missing SIZE capability")
	}
}

func TestSession_RCPT_DomainNotAllowed(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)
	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader) // 250 OK

	sendCmd(t, client, "RCPT TO:<b@other.tld>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "550 ") {
		t.Errorf("RCPT TO for disallowed domain: got %q, want prefix '550 '", resp)
	}
	if calls := runner.calls(); len(calls) != 0 {
		t.Errorf("rejected recipient must not reach the pipeline, got %v", calls)
	}
}

func TestSession_RCPT_DomainMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)
	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)

	sendCmd(t, client, "RCPT TO:<a@MAILHOOK.LOCAL>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("RCPT TO with uppercase domain: got %q, want prefix '250 '", resp)
	}
}

func TestSession_MessageFanOut(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)
	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)

	sendCmd(t, client, "RCPT TO:<a@mailhook.local>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<b@mailhook.local>")
	readLine(t, reader)

	sendCmd(t, client, "DATA")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "354 ") {
		t.Fatalf("DATA response: got %q, want prefix '354 '", resp)
	}

	message := strings.Join([]string{
		"From: sender@example.com",
		"To: a@mailhook.local",
		"Subject: Fan out",
		"Content-Type: text/plain",
		"",
		"Hello both.",
		".",
	}, "\r\n")
	if _, err := client.Write([]byte(message + "\r\n")); err != nil {
		t.Fatalf("failed to write DATA: %v", err)
	}

	// 250 arrives only after every recipient's pipeline run completed.
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("DATA completion response: got %q, want prefix '250 '", resp)
	}

	calls := runner.calls()
	if len(calls) != 2 {
		t.Fatalf("pipeline runs: got %d (%v), want 2", len(calls), calls)
	}
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c] = true
	}
	if !seen["a@mailhook.local"] || !seen["b@mailhook.local"] {
		t.Errorf("pipeline recipients: got %v", calls)
	}
	if runner.lastMsg == nil || runner.lastMsg.Subject != "Fan out" {
		t.Errorf("pipeline message: got %+v", runner.lastMsg)
	}
}

func TestSession_MalformedMessageIsTemporaryFailure(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)
	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<a@mailhook.local>")
	readLine(t, reader)

	sendCmd(t, client, "DATA")
	readLine(t, reader) // 354

	// A multipart message without a boundary fails normalization.
	message := strings.Join([]string{
		"From: sender@example.com",
		"Content-Type: multipart/mixed",
		"",
		"body",
		".",
	}, "\r\n")
	if _, err := client.Write([]byte(message + "\r\n")); err != nil {
		t.Fatalf("failed to write DATA: %v", err)
	}

	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "451 ") {
		t.Errorf("malformed message response: got %q, want prefix '451 '", resp)
	}
	if calls := runner.calls(); len(calls) != 0 {
		t.Errorf("failed normalization must not dispatch, got %v", calls)
	}
}

func TestSession_StateOrderEnforcement(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)

	// MAIL FROM before EHLO should fail
	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "503 ") {
		t.Errorf("MAIL FROM before EHLO: got %q, want prefix '503 '", resp)
	}

	ehlo(t, client, reader)

	// RCPT TO before MAIL FROM should fail
	sendCmd(t, client, "RCPT TO:<a@mailhook.local>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "503 ") {
		t.Errorf("RCPT TO before MAIL FROM: got %q, want prefix '503 '", resp)
	}

	// DATA before RCPT TO should fail
	sendCmd(t, client, "DATA")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "503 ") {
		t.Errorf("DATA before RCPT TO: got %q, want prefix '503 '", resp)
	}
}

func TestSession_RSET(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	client, reader := startSession(t, &staticPolicy{domains: []string{"mailhook.local"}}, runner)
	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader) // 250 OK

	sendCmd(t, client, "RSET")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("RSET response: got %q, want prefix '250 '", resp)
	}

	// Verify state is reset -- RCPT TO should fail without MAIL FROM
	sendCmd(t, client, "RCPT TO:<a@mailhook.local>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "503 ") {
		t.Errorf("RCPT TO after RSET: got %q, want prefix '503 '", resp)
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &staticPolicy{}, &recordingRunner{})

	sendCmd(t, client, "INVALID")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "500 ") {
		t.Errorf("unknown command response: got %q, want prefix '500 '", resp)
	}
}

func TestSession_QUIT(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &staticPolicy{}, &recordingRunner{})

	sendCmd(t, client, "QUIT")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "221 ") {
		t.Errorf("QUIT response: got %q, want prefix '221 '", resp)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		wantCmd string
		wantArg string
	}{
		{"EHLO client.test.com", "EHLO", "client.test.com"},
		{"MAIL FROM:<user@example.com>", "MAIL", "FROM:<user@example.com>"},
		{"RCPT TO:<user@example.com>", "RCPT", "TO:<user@example.com>"},
		{"DATA", "DATA", ""},
		{"QUIT", "QUIT", ""},
		{"ehlo client.test.com", "EHLO", "client.test.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			cmd, arg := parseCommand(tt.input)
			if cmd != tt.wantCmd {
				t.Errorf("command: got %q, want %q", cmd, tt.wantCmd)
			}
			if arg != tt.wantArg {
				t.Errorf("arg: got %q, want %q", arg, tt.wantArg)
			}
		})
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"<user@example.com>", "user@example.com"},
		{"  <user@example.com>  ", "user@example.com"},
		{"user@example.com", "user@example.com"},
		{"<>", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got := extractAddress(tt.input)
			if got != tt.want {
				t.Errorf("extractAddress(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
