package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Compile-time interface check.
var _ Notifier = (*EmailNotifier)(nil)

// EmailNotifier delivers alerts over SMTP with implicit TLS, the transport
// mainland mail providers expose on port 465.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	sender   string
	receiver string
	log      *slog.Logger
}

// NewEmailNotifier builds a notifier for the given SMTP account. Mail goes
// from sender to receiver; both are usually the same operator mailbox.
func NewEmailNotifier(host string, port int, username, password, sender, receiver string, log *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sender:   sender,
		receiver: receiver,
		log:      log,
	}
}

func (n *EmailNotifier) Success(ctx context.Context, subject, body string) {
	n.deliver(ctx, "【交易成功】"+subject, body)
}

func (n *EmailNotifier) Error(ctx context.Context, subject, body string) {
	n.deliver(ctx, "【交易异常】"+subject, body)
}

func (n *EmailNotifier) Suspended(ctx context.Context, code, name string) {
	subject := fmt.Sprintf("【停牌提醒】%s %s", code, name)
	body := fmt.Sprintf("%s（%s）当前处于停牌状态，本轮交易已跳过该标的。", name, code)
	n.deliver(ctx, subject, body)
}

func (n *EmailNotifier) Terminal(ctx context.Context, subject, body string) {
	n.deliver(ctx, "【需要人工处理】"+subject, body)
}

// deliver sends one mail. Errors are logged, never returned; callers are in
// the middle of a trading cycle and must not stop for mail trouble.
func (n *EmailNotifier) deliver(ctx context.Context, subject, body string) {
	if err := n.send(ctx, subject, body); err != nil {
		n.log.Error("sending notification mail", "subject", subject, "error", err)
		return
	}
	n.log.Info("notification mail sent", "subject", subject)
}

func (n *EmailNotifier) send(ctx context.Context, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	dialer := &net.Dialer{Timeout: 15 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: n.host})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", n.host, err)
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	auth := smtp.PlainAuth("", n.username, n.password, n.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(n.sender); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(n.receiver); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(n.message(subject, body)); err != nil {
		return fmt.Errorf("writing mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing mail body: %w", err)
	}

	return client.Quit()
}

// message builds an RFC 5322 mail with an encoded subject so Chinese
// characters survive transport.
func (n *EmailNotifier) message(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.sender)
	fmt.Fprintf(&b, "To: %s\r\n", n.receiver)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
