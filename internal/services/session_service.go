package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justsurfingit/inbox-job-tracker/internal/models"
)

var (
	ErrNoEmailAccount = errors.New("no email account connected")
	ErrScanInProgress = errors.New("a scan is already running for this session")
)

type session struct {
	account  models.EmailAccount
	scanning bool
	cancel   context.CancelCauseFunc
	lastSeen time.Time
}

// SessionStore keeps each caller's mailbox connection in process memory.
// Nothing here is ever persisted; a restart forgets every connection.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Connect stores account as the caller's mailbox, replacing any previous one.
func (s *SessionStore) Connect(userID string, account models.EmailAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[userID]; ok && cur.scanning {
		return ErrScanInProgress
	}
	account.IsConnected = true
	s.sessions[userID] = &session{account: account, lastSeen: s.now()}
	return nil
}

// Disconnect forgets the caller's mailbox and credential.
func (s *SessionStore) Disconnect(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[userID]; ok && cur.scanning {
		return ErrScanInProgress
	}
	delete(s.sessions, userID)
	return nil
}

// Account returns the caller's mailbox. ok is false when nothing was ever
// connected; an expired account is returned with IsConnected false.
func (s *SessionStore) Account(userID string) (models.EmailAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[userID]
	if !ok {
		return models.EmailAccount{}, false
	}
	cur.lastSeen = s.now()
	return cur.account, true
}

// Scanning reports whether a scan is running for the caller.
func (s *SessionStore) Scanning(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[userID]
	return ok && cur.scanning
}

// BeginScan marks the caller as scanning and returns a context that
// CancelScan cancels, together with the account as it was when the scan
// locked the session. release must be called when the scan ends.
func (s *SessionStore) BeginScan(ctx context.Context, userID string) (context.Context, models.EmailAccount, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[userID]
	if !ok || !cur.account.IsConnected {
		return nil, models.EmailAccount{}, nil, ErrNoEmailAccount
	}
	if cur.scanning {
		return nil, models.EmailAccount{}, nil, ErrScanInProgress
	}

	scanCtx, cancel := context.WithCancelCause(ctx)
	cur.scanning = true
	cur.cancel = cancel
	cur.lastSeen = s.now()

	release := func() {
		cancel(nil)
		s.mu.Lock()
		defer s.mu.Unlock()
		cur.scanning = false
		cur.cancel = nil
		cur.lastSeen = s.now()
	}
	return scanCtx, cur.account, release, nil
}

// CancelScan signals the caller's running scan. It reports whether a scan was
// running.
func (s *SessionStore) CancelScan(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[userID]
	if !ok || !cur.scanning || cur.cancel == nil {
		return false
	}
	cur.cancel(ErrScanCancelled)
	return true
}

// MarkExpired drops the credential after the provider rejected it. The
// address is kept so the client can show what needs reconnecting.
func (s *SessionStore) MarkExpired(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[userID]; ok {
		cur.account.IsConnected = false
		cur.account.AccessToken = ""
	}
}

// MarkSynced records the time of the last completed scan.
func (s *SessionStore) MarkSynced(userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[userID]; ok {
		cur.account.LastSynced = at
	}
}

// Sweep forgets sessions idle for longer than idle and returns how many were
// removed. Sessions with a running scan are kept.
func (s *SessionStore) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for id, cur := range s.sessions {
		if !cur.scanning && cur.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
