package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var (
	// ErrTokenExpired means the mailbox rejected the session credential. The
	// caller should ask the user to reconnect instead of retrying.
	ErrTokenExpired = errors.New("mail session expired")
	// ErrInsufficientScope means the token cannot read mail.
	ErrInsufficientScope = errors.New("mail token lacks read access (gmail.readonly)")
	// ErrUnsupportedProvider is returned for providers without a transport.
	ErrUnsupportedProvider = errors.New("email provider not supported")
)

// MessageRef identifies one message in the provider's mailbox.
type MessageRef struct {
	ID string `json:"id"`
}

// MessageQuery selects candidate messages: subjects containing any term,
// received within the last NewerThanDays days, at most Limit results.
type MessageQuery struct {
	Terms         []string
	NewerThanDays int
	Limit         int
}

// GmailFilter renders the query in Gmail search syntax, e.g.
// `subject:(job OR jobs) newer_than:3d`.
func (q MessageQuery) GmailFilter() string {
	var parts []string
	if len(q.Terms) > 0 {
		parts = append(parts, "subject:("+strings.Join(q.Terms, " OR ")+")")
	}
	if q.NewerThanDays > 0 {
		parts = append(parts, fmt.Sprintf("newer_than:%dd", q.NewerThanDays))
	}
	return strings.Join(parts, " ")
}

// MailTransport is the boundary to a mailbox provider. GetMessage returns the
// MIME payload tree that DecodeBody consumes.
type MailTransport interface {
	ListMessages(ctx context.Context, q MessageQuery) ([]MessageRef, error)
	GetMessage(ctx context.Context, id string) (*gmail.MessagePart, error)
	Close() error
}

// MailboxProfiler is implemented by transports that can tell which address
// they are reading.
type MailboxProfiler interface {
	EmailAddress(ctx context.Context) (string, error)
}

// TransportFactory opens a transport for a session account.
type TransportFactory func(ctx context.Context, account models.EmailAccount) (MailTransport, error)

// NewTransportFactory returns the production factory: Gmail over the REST
// API, Yahoo and Apple over IMAP with an app password. Each transport gets its
// own limiter so one user's scan cannot starve another's.
func NewTransportFactory(cfg config.ScanConfig, log *logging.Logger) TransportFactory {
	return func(ctx context.Context, account models.EmailAccount) (MailTransport, error) {
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BatchSize)
		switch account.Provider {
		case models.ProviderGmail:
			return NewGmailTransport(ctx, account.AccessToken, limiter, log)
		case models.ProviderYahoo, models.ProviderApple:
			addr := cfg.IMAPHosts[string(account.Provider)]
			if addr == "" {
				return nil, fmt.Errorf("%w: no IMAP host for %s", ErrUnsupportedProvider, account.Provider)
			}
			return NewIMAPTransport(addr, account.EmailAddress, account.AccessToken, limiter, log), nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, account.Provider)
		}
	}
}

// GmailTransport reads a mailbox through the Gmail REST API using a
// session-held access token.
type GmailTransport struct {
	svc     *gmail.Service
	limiter *rate.Limiter
	log     *logging.Logger
}

// NewGmailTransport builds a Gmail client bound to one access token. Extra
// client options (endpoint, HTTP client) are appended last so tests can point
// it at a fake server.
func NewGmailTransport(ctx context.Context, accessToken string, limiter *rate.Limiter, log *logging.Logger, opts ...option.ClientOption) (*GmailTransport, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailTransportFromService(svc, limiter, log), nil
}

// NewGmailTransportFromService wraps an existing client.
func NewGmailTransportFromService(svc *gmail.Service, limiter *rate.Limiter, log *logging.Logger) *GmailTransport {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &GmailTransport{svc: svc, limiter: limiter, log: log}
}

// EmailAddress returns the address of the authenticated mailbox.
func (t *GmailTransport) EmailAddress(ctx context.Context) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	profile, err := t.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", classifyGmailError(err)
	}
	return profile.EmailAddress, nil
}

// ListMessages runs the search and returns message ids, newest first as the
// API orders them.
func (t *GmailTransport) ListMessages(ctx context.Context, q MessageQuery) ([]MessageRef, error) {
	var resp *gmail.ListMessagesResponse
	err := retry(ctx, t.log, 3, time.Second, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		call := t.svc.Users.Messages.List("me").Q(q.GmailFilter())
		if q.Limit > 0 {
			call = call.MaxResults(int64(q.Limit))
		}
		var e error
		resp, e = call.Context(ctx).Do()
		return classifyGmailError(e)
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	refs := make([]MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			refs = append(refs, MessageRef{ID: m.Id})
		}
	}
	return refs, nil
}

// GetMessage fetches one message with its full payload tree.
func (t *GmailTransport) GetMessage(ctx context.Context, id string) (*gmail.MessagePart, error) {
	var msg *gmail.Message
	err := retry(ctx, t.log, 2, 500*time.Millisecond, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		var e error
		msg, e = t.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return classifyGmailError(e)
	})
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("get message %s: empty payload", id)
	}
	return msg.Payload, nil
}

// Close is a no-op; the REST client holds no connection state.
func (t *GmailTransport) Close() error { return nil }

// classifyGmailError maps API failures onto the sentinel errors. Errors that
// retrying cannot fix are wrapped in permanentError.
func classifyGmailError(err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}
	switch gErr.Code {
	case http.StatusUnauthorized:
		return permanent(fmt.Errorf("%w: %v", ErrTokenExpired, err))
	case http.StatusForbidden:
		for _, item := range gErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return err
			}
		}
		return permanent(fmt.Errorf("%w: %v", ErrInsufficientScope, err))
	case http.StatusTooManyRequests:
		return err
	}
	if gErr.Code >= 400 && gErr.Code < 500 {
		return permanent(err)
	}
	return err
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// retry executes f with exponential backoff. Permanent errors and context
// cancellation stop it early.
func retry(ctx context.Context, log *logging.Logger, attempts int, sleep time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
		if i == attempts-1 {
			break
		}

		log.Warn("mail API error, retrying", "err", err, "backoff", sleep)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// DecodeBody returns the readable content of a message payload. HTML is
// preferred over plain text at each level; nested multiparts are searched
// depth-first. Any decoding failure yields "", which callers treat as "no
// content".
func DecodeBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	var data string
	if len(payload.Parts) > 0 {
		if part := pickTextPart(payload.Parts); part != nil && part.Body != nil {
			data = part.Body.Data
		}
	} else if payload.Body != nil {
		data = payload.Body.Data
	}
	if data == "" {
		return ""
	}

	b, err := decodeBase64URL(data)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}

func pickTextPart(parts []*gmail.MessagePart) *gmail.MessagePart {
	for _, mime := range []string{"text/html", "text/plain"} {
		for _, p := range parts {
			if p != nil && strings.EqualFold(p.MimeType, mime) {
				return p
			}
		}
	}
	for _, p := range parts {
		if p == nil || len(p.Parts) == 0 {
			continue
		}
		if found := pickTextPart(p.Parts); found != nil {
			return found
		}
	}
	return nil
}

// decodeBase64URL accepts the URL-safe alphabet with or without padding, as
// well as stray line breaks.
func decodeBase64URL(data string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '+'
		case '_':
			return '/'
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, data)
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
