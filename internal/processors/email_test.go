package processors

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

func stubSend(e *Email) *sentMail {
	got := &sentMail{}
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*got = sentMail{addr: addr, auth: a, from: from, to: to, msg: msg}
		return nil
	}
	return got
}

func TestEmailSendsMessage(t *testing.T) {
	t.Parallel()

	e := NewEmail(EmailConfig{
		Host:     "smtp.example.com",
		Username: "mailer",
		Password: "hunter2",
		From:     "Jobmill <jobs@example.com>",
	}, logx.Nop())
	got := stubSend(e)

	out, err := e.run(context.Background(), activeJob("j42", TypeEmailSend), emailPayload{
		To:      []string{"Ada <ada@example.com>", "bob@example.com"},
		Subject: "weekly digest",
		Body:    "all good",
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got.addr != "smtp.example.com:587" {
		t.Fatalf("addr = %q, want smtp.example.com:587", got.addr)
	}
	if got.from != "jobs@example.com" {
		t.Fatalf("from = %q", got.from)
	}
	if len(got.to) != 2 || got.to[0] != "ada@example.com" || got.to[1] != "bob@example.com" {
		t.Fatalf("to = %v", got.to)
	}
	if got.auth == nil {
		t.Fatal("auth = nil, want PLAIN auth when username is set")
	}

	msg := string(got.msg)
	for _, want := range []string{
		"From: jobs@example.com\r\n",
		"To: ada@example.com, bob@example.com\r\n",
		"Subject: weekly digest\r\n",
		"Message-ID: <j42@example.com>\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"\r\n\r\nall good\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	res, ok := out.(emailResult)
	if !ok {
		t.Fatalf("result type = %T", out)
	}
	if res.Recipients != 2 || res.MessageID != "<j42@example.com>" {
		t.Fatalf("result = %+v", res)
	}
}

func TestEmailValidation(t *testing.T) {
	t.Parallel()

	base := EmailConfig{Host: "smtp.example.com", From: "jobs@example.com"}
	ok := emailPayload{To: []string{"a@example.com"}, Subject: "s", Body: "b"}

	cases := []struct {
		name    string
		cfg     EmailConfig
		payload emailPayload
		wantErr string
	}{
		{"missing host", EmailConfig{From: base.From}, ok, "host is not configured"},
		{"missing from", EmailConfig{Host: base.Host}, ok, "from address is not configured"},
		{"no recipients", base, emailPayload{Subject: "s"}, "at least one recipient"},
		{"blank subject", base, emailPayload{To: ok.To, Subject: "  "}, "subject is required"},
		{"bad recipient", base, emailPayload{To: []string{"not-an-address"}, Subject: "s"}, "invalid recipient"},
		{"bad from", EmailConfig{Host: base.Host, From: "broken<"}, ok, "invalid from address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEmail(tc.cfg, logx.Nop())
			stubSend(e)
			_, err := e.run(context.Background(), activeJob("j1", TypeEmailSend), tc.payload, noProgress)
			if err == nil || !jobs.IsNoRetry(err) {
				t.Fatalf("err = %v, want no-retry", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestEmailNoAuthWithoutUsername(t *testing.T) {
	t.Parallel()

	e := NewEmail(EmailConfig{Host: "relay.internal", Port: 25, From: "jobs@example.com"}, logx.Nop())
	got := stubSend(e)

	_, err := e.run(context.Background(), activeJob("j1", TypeEmailSend), emailPayload{
		To: []string{"a@example.com"}, Subject: "s", Body: "b",
	}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.addr != "relay.internal:25" {
		t.Fatalf("addr = %q", got.addr)
	}
	if got.auth != nil {
		t.Fatalf("auth = %v, want nil without a username", got.auth)
	}
}

func TestEmailSendFailureRetries(t *testing.T) {
	t.Parallel()

	e := NewEmail(EmailConfig{Host: "smtp.example.com", From: "jobs@example.com"}, logx.Nop())
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("451 try again later")
	}

	_, err := e.run(context.Background(), activeJob("j1", TypeEmailSend), emailPayload{
		To: []string{"a@example.com"}, Subject: "s", Body: "b",
	}, noProgress)
	if err == nil || jobs.IsNoRetry(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
	if !strings.Contains(err.Error(), "smtp send") {
		t.Fatalf("err = %q", err)
	}
}

func TestEmailThroughScheduler(t *testing.T) {
	t.Parallel()

	s := startScheduler(t)
	e := NewEmail(EmailConfig{Host: "smtp.example.com", From: "jobs@example.com"}, logx.Nop())
	got := stubSend(e)
	e.Register(s)

	job, err := s.Enqueue(TypeEmailSend, map[string]any{
		"to":      []string{"ops@example.com"},
		"subject": "report ready",
		"body":    "see attachment",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j := waitStatus(t, s, job.ID, jobs.StatusCompleted)

	res, ok := j.Result.(emailResult)
	if !ok {
		t.Fatalf("result type = %T", j.Result)
	}
	if res.Recipients != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(got.to) != 1 || got.to[0] != "ops@example.com" {
		t.Fatalf("to = %v", got.to)
	}
}
