package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"
)

// Config carries the SMTP endpoint and sender credentials.
type Config struct {
	Host     string
	Port     int
	From     string
	Password string
}

type Mailer struct {
	cfg Config
	log *zerolog.Logger
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// SendTicketEmail mails the issued ticket to the registrant. The QR payload
// travels as text; rendering it into an image is the mail client's concern.
func (m *Mailer) SendTicketEmail(toEmail, eventName, ticketNumber, qrPayload string) error {
	subject := fmt.Sprintf("Your ticket for %s", eventName)
	body := fmt.Sprintf(
		"Hello!\n\nYou are registered for \"%s\".\n\nTicket number: %s\nQR payload: %s\n\nShow the QR code (or the ticket number) at the entrance.",
		eventName, ticketNumber, qrPayload,
	)
	return m.send(toEmail, subject, body)
}

// SendCancellationEmail confirms that a registration was cancelled.
func (m *Mailer) SendCancellationEmail(toEmail, eventName string) error {
	subject := fmt.Sprintf("Registration cancelled for %s", eventName)
	body := fmt.Sprintf("Hello!\n\nYour registration for \"%s\" has been cancelled.", eventName)
	return m.send(toEmail, subject, body)
}

func (m *Mailer) send(toEmail, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, toEmail, subject, body,
	)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{toEmail}, []byte(msg)); err != nil {
		m.log.Warn().Msgf("failed to send email to %s: %v", toEmail, err)
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Msgf("email sent to %s (%s)", toEmail, subject)
	return nil
}
