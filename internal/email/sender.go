package email

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to, subject, html string) error
}

type StdoutSender struct{}

func (StdoutSender) Send(to, subject, html string) error {
	log.Printf("EMAIL to=%s subject=%s\n%s", to, subject, html)
	return nil
}

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	Addr string
	From string
}

// NewSMTPSender defaults to a local mail catcher for development.
func NewSMTPSender(addr, from string) SMTPSender {
	if addr == "" {
		addr = "localhost:1025"
	}
	if from == "" {
		from = "no-reply@analogous.app"
	}
	return SMTPSender{Addr: addr, From: from}
}

func (s SMTPSender) Send(to, subject, html string) error {
	if to == "" {
		return fmt.Errorf("recipient required")
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		html,
	}, "\r\n")
	return smtp.SendMail(s.Addr, nil, s.From, []string{to}, []byte(msg))
}
