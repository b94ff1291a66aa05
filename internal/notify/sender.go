package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reportflow/internal/domain"
)

var (
	ErrNoSender     = errors.New("no sender for channel")
	ErrNoRecipients = errors.New("no recipients")
)

// Sender delivers one rendered message. It may be a remote call and is
// treated as unreliable.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) error
}

type SenderFunc func(ctx context.Context, msg domain.Message) error

func (f SenderFunc) Send(ctx context.Context, msg domain.Message) error { return f(ctx, msg) }

// AddressBook holds the addresses of one recipient kind per channel.
type AddressBook map[domain.RecipientKind]map[domain.Channel][]string

// Router resolves recipients from its address book and hands the message
// to the sender of its channel.
type Router struct {
	senders map[domain.Channel]Sender
	book    AddressBook
}

func NewRouter(book AddressBook) *Router {
	if book == nil {
		book = AddressBook{}
	}
	return &Router{senders: map[domain.Channel]Sender{}, book: book}
}

// Handle binds s to ch, replacing any previous sender. Not safe to call
// once sending has started.
func (r *Router) Handle(ch domain.Channel, s Sender) *Router {
	r.senders[ch] = s
	return r
}

func (r *Router) Send(ctx context.Context, msg domain.Message) error {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoSender, msg.Channel)
	}
	if len(msg.To) == 0 {
		msg.To = r.book[msg.RecipientKind][msg.Channel]
	}
	return s.Send(ctx, msg)
}

// SendmailSender pipes an RFC 5322 message into a sendmail-compatible binary.
type SendmailSender struct {
	Path string
	From string
}

func (s SendmailSender) Send(ctx context.Context, msg domain.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("sendmail: %w for %s", ErrNoRecipients, msg.RecipientKind)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", headerSafe(msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	cmd := exec.CommandContext(ctx, s.Path, "-t", "-oi")
	cmd.Stdin = &buf
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sendmail error: %v; out=%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// SMSGateway posts one JSON request per message to an HTTP SMS gateway.
type SMSGateway struct {
	URL    string
	Token  string
	Sender string
	Client *http.Client
}

type smsRequest struct {
	From string   `json:"from,omitempty"`
	To   []string `json:"to"`
	Text string   `json:"text"`
}

func NewSMSGateway(url, token, sender string, timeout time.Duration) *SMSGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMSGateway{URL: url, Token: token, Sender: sender, Client: &http.Client{Timeout: timeout}}
}

func (g *SMSGateway) Send(ctx context.Context, msg domain.Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("sms: %w for %s", ErrNoRecipients, msg.RecipientKind)
	}
	payload, err := json.Marshal(smsRequest{From: g.Sender, To: msg.To, Text: msg.Subject + "\n" + msg.Body})
	if err != nil {
		return fmt.Errorf("invalid SMS payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("SMS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read SMS response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("SMS gateway HTTP %d error: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// LogSender only logs the message. Used for dry runs.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg domain.Message) error {
	log.Info().
		Str("report_type", string(msg.ReportType)).
		Str("recipient", string(msg.RecipientKind)).
		Str("channel", string(msg.Channel)).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Msg("notification (dry run)")
	return nil
}
