package processors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

// EmailConfig configures the email.send processor. Password is held for SMTP
// auth only and never appears in logs.
type EmailConfig struct {
	Host       string
	Port       int // default 587
	Username   string
	Password   string
	From       string
	RatePerMin int // default 60
}

func (c EmailConfig) withDefaults() EmailConfig {
	if c.Port <= 0 {
		c.Port = 587
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 60
	}
	return c
}

// Email sends plain-text mail through a single SMTP relay. Sends are
// rate-capped so a burst of queued jobs cannot trip the relay's limits.
type Email struct {
	cfg EmailConfig
	log logx.Logger
	lim *rate.Limiter

	// send matches smtp.SendMail so tests can stub the relay.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail builds the processor.
func NewEmail(cfg EmailConfig, log logx.Logger) *Email {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	perMin := cfg.RatePerMin
	return &Email{
		cfg:  cfg,
		log:  log,
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		send: smtp.SendMail,
	}
}

// Register installs the processor on the scheduler under TypeEmailSend.
func (e *Email) Register(s *jobs.Scheduler) {
	jobs.Register(s, TypeEmailSend, e.run)
}

type emailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type emailResult struct {
	Recipients int    `json:"recipients"`
	MessageID  string `json:"message_id"`
}

func (e *Email) run(ctx context.Context, job jobs.Job, p emailPayload, progress jobs.ProgressFunc) (any, error) {
	if e.cfg.Host == "" {
		return nil, jobs.NoRetry(errors.New("email host is not configured"))
	}
	if e.cfg.From == "" {
		return nil, jobs.NoRetry(errors.New("email from address is not configured"))
	}
	if len(p.To) == 0 {
		return nil, jobs.NoRetry(errors.New("at least one recipient is required"))
	}
	if strings.TrimSpace(p.Subject) == "" {
		return nil, jobs.NoRetry(errors.New("subject is required"))
	}

	to := make([]string, 0, len(p.To))
	for _, raw := range p.To {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, jobs.NoRetry(fmt.Errorf("invalid recipient %q: %w", raw, err))
		}
		to = append(to, addr.Address)
	}
	from, err := mail.ParseAddress(e.cfg.From)
	if err != nil {
		return nil, jobs.NoRetry(fmt.Errorf("invalid from address %q: %w", e.cfg.From, err))
	}

	if err := e.lim.Wait(ctx); err != nil {
		return nil, err
	}
	progress(20)

	id := messageID(job.ID, from.Address)
	msg := buildMessage(from.Address, to, p.Subject, p.Body, id)
	progress(50)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(addr, auth, from.Address, to, msg); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	e.log.Debug("email sent",
		logx.String("job_id", job.ID),
		logx.Int("recipients", len(to)),
	)
	return emailResult{Recipients: len(to), MessageID: id}, nil
}

// messageID derives a stable Message-ID from the job so a retried attempt
// that actually delivered is recognizable as a duplicate downstream.
func messageID(jobID, from string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i+1 < len(from) {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", jobID, domain)
}

func buildMessage(from string, to []string, subject, body, id string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\r\n") {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
