package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"golang.org/x/sync/errgroup"
)

// ScanState is the lifecycle of one scan. Succeeded, Failed and Cancelled are
// terminal.
type ScanState string

const (
	ScanIdle      ScanState = "idle"
	ScanScanning  ScanState = "scanning"
	ScanSucceeded ScanState = "succeeded"
	ScanFailed    ScanState = "failed"
	ScanCancelled ScanState = "cancelled"
)

// Cancel reasons reported on a cancelled scan.
const (
	CancelByUser     = "user"
	CancelByWatchdog = "watchdog"
)

var (
	ErrNoMatchingJobs = errors.New("no matching jobs found")
	// ErrScanTimeout is the cancellation cause set by the watchdog.
	ErrScanTimeout = errors.New("scan exceeded its time limit")
	// ErrScanCancelled is the cancellation cause set by an explicit cancel.
	ErrScanCancelled = errors.New("scan cancelled")
)

// CandidateExtractor is an optional model-backed extractor tried before the
// link heuristics.
type CandidateExtractor interface {
	ExtractJobsFromEmail(ctx context.Context, html string) ([]models.JobCandidate, error)
}

// ScanOptions are per-scan inputs.
type ScanOptions struct {
	// Preferences may be nil, which disables relevance filtering.
	Preferences *models.UserPreferences
	// Keywords drive the heuristic extractor; empty means title patterns.
	Keywords []string
	// Source is recorded on every produced job, e.g. "Gmail".
	Source string
	UseAI  bool
	// Progress, when set, is called after each batch.
	Progress func(processed, total int)
}

// ScanResult is what a scan hands back. Jobs are unsaved: importing them is
// the caller's decision.
type ScanResult struct {
	State        ScanState
	Jobs         []models.Job
	Processed    int
	Failed       int
	AuthExpired  bool
	CancelReason string
}

// Scanner runs the batch pipeline: fetch, decode, extract, score, merge.
type Scanner struct {
	batchSize      int
	watchdog       time.Duration
	pause          time.Duration
	messageTimeout time.Duration
	ai             CandidateExtractor
	log            *logging.Logger
	now            func() time.Time
}

// NewScanner builds a Scanner from config. ai may be nil.
func NewScanner(cfg config.ScanConfig, ai CandidateExtractor, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.NewNop()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Scanner{
		batchSize:      batch,
		watchdog:       cfg.Watchdog(),
		pause:          cfg.BatchPause(),
		messageTimeout: cfg.MessageTimeout(),
		ai:             ai,
		log:            log,
		now:            time.Now,
	}
}

// Scan processes refs in fixed-size batches. Messages in a batch are handled
// in parallel and a failing message never aborts its batch. Cancellation (from
// ctx or the watchdog) is observed between batches only, so in-flight work
// always completes and is merged. When two messages yield the same application
// URL the one earlier in refs wins.
//
// Errors: ErrTokenExpired when the mailbox rejected the credential, even if
// the scan was also cancelled (partial jobs are still returned),
// ErrNoMatchingJobs when a scan that ran to the end found nothing.
//
// ctx may already carry the watchdog deadline; the scan's own ceiling never
// extends it.
func (s *Scanner) Scan(ctx context.Context, transport MailTransport, refs []MessageRef, opts ScanOptions) (*ScanResult, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, s.watchdog, ErrScanTimeout)
	defer cancel()

	matcher := NewMatcher(opts.Preferences)
	res := &ScanResult{State: ScanScanning}

	var order []string
	merged := map[string]models.JobCandidate{}
	cancelled := false

	for start := 0; start < len(refs); start += s.batchSize {
		if start > 0 && s.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.pause):
			}
		}
		if res.AuthExpired {
			break
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		batch := refs[start:min(start+s.batchSize, len(refs))]
		found := make([][]models.JobCandidate, len(batch))
		errs := make([]error, len(batch))

		var g errgroup.Group
		for i, ref := range batch {
			g.Go(func() error {
				found[i], errs[i] = s.processMessage(ctx, transport, ref, matcher, opts)
				return nil
			})
		}
		_ = g.Wait()

		for i, ref := range batch {
			res.Processed++
			if err := errs[i]; err != nil {
				res.Failed++
				if errors.Is(err, ErrTokenExpired) {
					res.AuthExpired = true
				}
				s.log.Warn("message skipped", "message_id", ref.ID, "err", err)
				continue
			}
			for _, c := range found[i] {
				if _, seen := merged[c.ApplicationURL]; seen {
					continue
				}
				merged[c.ApplicationURL] = c
				order = append(order, c.ApplicationURL)
			}
		}

		if opts.Progress != nil {
			opts.Progress(res.Processed, len(refs))
		}
	}

	res.Jobs = s.toJobs(order, merged, opts.Source)

	if cancelled || (res.AuthExpired && ctx.Err() != nil) {
		res.CancelReason = CancelReason(ctx)
	}

	// An expired credential outranks a cancel: the caller has to reconnect
	// either way.
	switch {
	case res.AuthExpired:
		res.State = ScanFailed
		s.log.Warn("scan stopped, mailbox credential expired", "processed", res.Processed, "jobs", len(res.Jobs))
		return res, ErrTokenExpired
	case cancelled:
		res.State = ScanCancelled
		s.log.Info("scan cancelled", "reason", res.CancelReason, "processed", res.Processed, "jobs", len(res.Jobs))
		return res, nil
	case len(res.Jobs) == 0:
		res.State = ScanSucceeded
		return res, ErrNoMatchingJobs
	}

	res.State = ScanSucceeded
	s.log.Info("scan finished", "processed", res.Processed, "failed", res.Failed, "jobs", len(res.Jobs))
	return res, nil
}

// CancelReason names who ended ctx: the watchdog when its cause is
// ErrScanTimeout, otherwise the user.
func CancelReason(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), ErrScanTimeout) {
		return CancelByWatchdog
	}
	return CancelByUser
}

// processMessage runs on its own deadline detached from ctx's cancellation:
// once started, a message is finished even if the scan is cancelled.
func (s *Scanner) processMessage(ctx context.Context, transport MailTransport, ref MessageRef, matcher *Matcher, opts ScanOptions) ([]models.JobCandidate, error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.messageTimeout)
	defer cancel()

	payload, err := transport.GetMessage(mctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	body := DecodeBody(payload)
	if body == "" {
		return nil, nil
	}

	var out []models.JobCandidate
	for _, c := range s.extract(mctx, body, opts) {
		if c.ApplicationURL == "" {
			continue
		}
		m := matcher.Match(c.Title, c.Location)
		if matcher.RoleFilterActive() && !m.IsMatch {
			continue
		}
		c.MatchScore = blendScore(c.MatchScore, m.Score)
		out = append(out, c)
	}
	return out, nil
}

func (s *Scanner) extract(ctx context.Context, body string, opts ScanOptions) []models.JobCandidate {
	if opts.UseAI && s.ai != nil {
		found, err := s.ai.ExtractJobsFromEmail(ctx, body)
		if err == nil && len(found) > 0 {
			return found
		}
		if err != nil {
			s.log.Debug("model extraction failed, using link heuristics", "err", err)
		}
	}
	return ExtractJobs(body, opts.Keywords)
}

// blendScore scales the relevance score by the extractor's confidence, so a
// heuristic candidate (confidence 80) that fully matches scores 80.
func blendScore(confidence, score int) int {
	if confidence <= 0 {
		return score
	}
	return (confidence*score + 50) / 100
}

// StableJobID derives a job id from its application URL so rescanning the
// same posting produces the same id and imports stay idempotent.
func StableJobID(applicationURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(applicationURL)).String()
}

func (s *Scanner) toJobs(order []string, merged map[string]models.JobCandidate, source string) []models.Job {
	now := s.now().UTC()
	jobs := make([]models.Job, 0, len(order))
	for _, url := range order {
		c := merged[url]
		job := models.Job{
			ID:             StableJobID(url),
			Title:          c.Title,
			Company:        c.Company,
			Location:       c.Location,
			Requirements:   []string{},
			Status:         models.StatusDetected,
			Source:         source,
			DetectedAt:     now,
			ApplicationURL: url,
			MatchScore:     c.MatchScore,
		}
		if job.Title == "" {
			job.Title = "Unknown Role"
		}
		if job.Company == "" {
			job.Company = "Unknown Company"
		}
		if job.Location == "" {
			job.Location = "Remote"
		}
		jobs = append(jobs, job)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].MatchScore > jobs[j].MatchScore })
	return jobs
}
