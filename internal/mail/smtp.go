package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/veerhq/veer/internal/models"
)

const DefaultSMTPTimeout = 10 * time.Second

// SMTPSender submits mail through the relay configured on a custom
// integration. The record's EncryptedCredentials hold the relay password.
type SMTPSender struct {
	secrets Decrypter
	timeout time.Duration
	tls     *tls.Config
	tlsPort int
}

func NewSMTPSender(secrets Decrypter, timeout time.Duration) *SMTPSender {
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	return &SMTPSender{secrets: secrets, timeout: timeout}
}

func (s *SMTPSender) Send(ctx context.Context, rec *models.Integration, msg Message) error {
	if rec.SMTPHost == "" || rec.SMTPPort == 0 || rec.SMTPUser == "" || rec.EncryptedCredentials == "" {
		return &ValidationError{Field: "smtp", Message: "SMTP configuration is incomplete"}
	}
	if strings.Contains(rec.SMTPHost, "@") {
		return &ValidationError{
			Field:   "host",
			Message: fmt.Sprintf("Invalid SMTP host: %q. The host should be a domain name (e.g., smtp-relay.brevo.com), not an email address. Please check your SMTP configuration.", rec.SMTPHost),
		}
	}
	if err := ValidateHost(rec.SMTPHost); err != nil {
		return err
	}
	if err := ValidateFromAddress(msg.From); err != nil {
		return err
	}

	password, err := s.secrets.Decrypt(rec.EncryptedCredentials)
	if err != nil {
		return &SendError{Kind: KindCredentials, Message: "Failed to decrypt SMTP password", Err: err}
	}

	c, err := s.dial(ctx, rec.SMTPHost, rec.SMTPPort)
	if err != nil {
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", rec.SMTPUser, password)); err != nil {
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}

	if err := c.Mail(msg.From, nil); err != nil {
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}

	var accepted, rejected []string
	for _, to := range strings.Split(msg.To, ",") {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		if err := c.Rcpt(to, nil); err != nil {
			var se *smtp.SMTPError
			if errors.As(err, &se) {
				rejected = append(rejected, to)
				continue
			}
			return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
		}
		accepted = append(accepted, to)
	}
	if len(rejected) > 0 || len(accepted) == 0 {
		return &SendError{
			Kind:    KindRejected,
			Message: fmt.Sprintf("Email was rejected by SMTP server: %s", strings.Join(rejected, ", ")),
		}
	}

	w, err := c.Data()
	if err != nil {
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}
	if _, err := w.Write(buildMIME(msg, time.Now())); err != nil {
		w.Close()
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}
	if err := w.Close(); err != nil {
		var se *smtp.SMTPError
		if errors.As(err, &se) {
			return &SendError{Kind: KindRejected, Message: fmt.Sprintf("Email was rejected by SMTP server: %s", se.Message), Err: err}
		}
		return classifySMTPError(err, rec.SMTPHost, rec.SMTPPort)
	}

	if err := c.Quit(); err != nil {
		slog.WarnContext(ctx, "smtp quit failed after successful submission", "host", rec.SMTPHost, "error", err)
	}

	slog.InfoContext(ctx, "sent email via smtp", "host", rec.SMTPHost, "user_id", rec.UserID, "recipients", len(accepted))
	return nil
}

// dial connects with implicit TLS on the submissions port and upgrades with
// STARTTLS elsewhere when the server offers it. Servers without STARTTLS get a
// second, plaintext connection.
func (s *SMTPSender) dial(ctx context.Context, host string, port int) (*smtp.Client, error) {
	conn, err := s.connect(ctx, host, port)
	if err != nil {
		return nil, err
	}

	var c *smtp.Client
	if port == s.implicitTLSPort() {
		c = smtp.NewClient(tls.Client(conn, s.tlsConfig(host)))
	} else {
		c, err = smtp.NewClientStartTLS(conn, s.tlsConfig(host))
		if err != nil {
			if !isNoStartTLS(err) {
				return nil, err
			}
			slog.DebugContext(ctx, "smtp server does not offer starttls, continuing in plaintext", "host", host, "port", port)
			if conn, err = s.connect(ctx, host, port); err != nil {
				return nil, err
			}
			c = smtp.NewClient(conn)
		}
	}
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout

	if err := c.Hello("localhost"); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// connect dials the relay. Without a context deadline the connection gets
// one so the STARTTLS exchange cannot outlive the configured timeout.
func (s *SMTPSender) connect(ctx context.Context, host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(3 * s.timeout)
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}

// go-smtp reports a missing STARTTLS extension with an unexported error.
func isNoStartTLS(err error) bool {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return false
	}
	return strings.Contains(err.Error(), "doesn't support STARTTLS")
}

func (s *SMTPSender) implicitTLSPort() int {
	if s.tlsPort != 0 {
		return s.tlsPort
	}
	return 465
}

func (s *SMTPSender) tlsConfig(host string) *tls.Config {
	if s.tls != nil {
		cfg := s.tls.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// classifySMTPError maps network and protocol failures to the causes the
// settings screen explains separately.
func classifySMTPError(err error, host string, port int) *SendError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &SendError{
			Kind:    KindHostNotFound,
			Message: fmt.Sprintf("Invalid SMTP host: %q. Check the host is correct and not an email address.", host),
			Err:     err,
		}
	}

	var netErr net.Error
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return connectionError(err, host, port)
	}

	var se *smtp.SMTPError
	if errors.As(err, &se) && (se.Code == 530 || se.Code == 534 || se.Code == 535) {
		return authError(err, host)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "ENOTFOUND"), strings.Contains(msg, "no such host"):
		return &SendError{Kind: KindHostNotFound, Message: fmt.Sprintf("Invalid SMTP host: %q. Check the host is correct and not an email address.", host), Err: err}
	case strings.Contains(msg, "ETIMEDOUT"), strings.Contains(msg, "ECONNREFUSED"), strings.Contains(msg, "connection refused"):
		return connectionError(err, host, port)
	case strings.Contains(msg, "EAUTH"):
		return authError(err, host)
	}

	return &SendError{Kind: KindGeneric, Message: fmt.Sprintf("SMTP error: %s", msg), Err: err}
}

func connectionError(err error, host string, port int) *SendError {
	return &SendError{
		Kind:    KindConnection,
		Message: fmt.Sprintf("Cannot connect to SMTP server \"%s:%d\". Check host, port, and firewall settings.", host, port),
		Err:     err,
	}
}

func authError(err error, host string) *SendError {
	msg := "SMTP authentication failed. Check your username and password are correct."
	if strings.Contains(host, "brevo") || strings.Contains(host, "sendinblue") {
		msg = "SMTP authentication failed. Check your Brevo SMTP credentials in Dashboard > SMTP & API > SMTP"
	}
	return &SendError{Kind: KindAuth, Message: msg, Err: err}
}
