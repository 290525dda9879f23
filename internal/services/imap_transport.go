package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
)

const (
	maxMIMEDepth = 8
	maxPartBytes = 6 << 20
)

// IMAPTransport reads a mailbox over IMAPS with an app password. The
// connection is opened on first use and commands are serialized; a scan's
// parallel fetches queue on the mutex.
type IMAPTransport struct {
	addr     string
	username string
	password string
	tls      *tls.Config
	limiter  *rate.Limiter
	log      *logging.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

func NewIMAPTransport(addr, username, password string, limiter *rate.Limiter, log *logging.Logger) *IMAPTransport {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = logging.NewNop()
	}
	host := addr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		host = addr[:i]
	}
	return &IMAPTransport{
		addr:     addr,
		username: username,
		password: password,
		tls:      &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host},
		limiter:  limiter,
		log:      log,
	}
}

// connect must be called with t.mu held.
func (t *IMAPTransport) connect() (*imapclient.Client, error) {
	if t.client != nil {
		return t.client, nil
	}
	if t.username == "" || t.password == "" {
		return nil, fmt.Errorf("%w: missing IMAP credentials", ErrTokenExpired)
	}

	c, err := imapclient.DialTLS(t.addr, &imapclient.Options{TLSConfig: t.tls})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}

	if err := c.Login(t.username, t.password).Wait(); err != nil {
		_ = c.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap select inbox: %w", err)
	}

	t.client = c
	return c, nil
}

// guard closes the connection if ctx ends while a command is in flight so
// the blocked call returns. The caller drops the client afterwards.
func (t *IMAPTransport) guard(ctx context.Context, c *imapclient.Client) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// dropIfDone must be called with t.mu held.
func (t *IMAPTransport) dropIfDone(ctx context.Context) {
	if ctx.Err() != nil {
		t.client = nil
	}
}

func (t *IMAPTransport) EmailAddress(context.Context) (string, error) {
	return t.username, nil
}

func (t *IMAPTransport) ListMessages(ctx context.Context, q MessageQuery) ([]MessageRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.connect()
	if err != nil {
		return nil, err
	}
	stop := t.guard(ctx, c)
	defer stop()

	criteria := subjectCriteria(q.Terms)
	if q.NewerThanDays > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -q.NewerThanDays)
	}

	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		t.dropIfDone(ctx)
		return nil, fmt.Errorf("imap uid search: %w", err)
	}

	uids := data.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if q.Limit > 0 && len(uids) > q.Limit {
		uids = uids[:q.Limit]
	}

	refs := make([]MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, MessageRef{ID: strconv.FormatUint(uint64(uid), 10)})
	}
	return refs, nil
}

func (t *IMAPTransport) GetMessage(ctx context.Context, id string) (*gmail.MessagePart, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP uid %q", id)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.connect()
	if err != nil {
		return nil, err
	}
	stop := t.guard(ctx, c)
	defer stop()

	section := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone, Peek: true}
	cmd := c.Fetch(imap.UIDSetNum(imap.UID(n)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	var raw []byte
	if msg := cmd.Next(); msg != nil {
		buf, err := msg.Collect()
		if err != nil {
			_ = cmd.Close()
			t.dropIfDone(ctx)
			return nil, fmt.Errorf("imap fetch %s: %w", id, err)
		}
		raw = buf.FindBodySection(section)
	}
	if err := cmd.Close(); err != nil {
		t.dropIfDone(ctx)
		return nil, fmt.Errorf("imap fetch %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("imap fetch %s: message not found", id)
	}

	return payloadFromRFC822(raw)
}

func (t *IMAPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	c := t.client
	t.client = nil
	if err := c.Logout().Wait(); err != nil {
		t.log.Debug("imap logout", "err", err)
	}
	return c.Close()
}

// subjectCriteria ORs a SUBJECT search across terms.
func subjectCriteria(terms []string) *imap.SearchCriteria {
	var crit *imap.SearchCriteria
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		c := imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: term}},
		}
		if crit == nil {
			crit = &c
			continue
		}
		crit = &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{*crit, c}}}
	}
	if crit == nil {
		crit = &imap.SearchCriteria{}
	}
	return crit
}

// payloadFromRFC822 parses a raw message into the same part tree the Gmail
// API returns, with each leaf body transfer-decoded, converted to UTF-8 and
// re-encoded as URL-safe base64, so DecodeBody works on either transport.
func payloadFromRFC822(raw []byte) (*gmail.MessagePart, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return partFromEntity(e, 0)
}

func partFromEntity(e *message.Entity, depth int) (*gmail.MessagePart, error) {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	part := &gmail.MessagePart{MimeType: strings.ToLower(mediaType)}

	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxMIMEDepth {
			return part, nil
		}
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return nil, fmt.Errorf("read mime part: %w", err)
			}
			p, err := partFromEntity(child, depth+1)
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, p)
		}
		return part, nil
	}

	body, err := io.ReadAll(io.LimitReader(e.Body, maxPartBytes))
	if err != nil {
		return nil, fmt.Errorf("read mime body: %w", err)
	}
	part.Body = &gmail.MessagePartBody{
		Data: base64.URLEncoding.EncodeToString(body),
		Size: int64(len(body)),
	}
	return part, nil
}
