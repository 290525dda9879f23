package services_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
	"google.golang.org/api/gmail/v1"
)

// fakeTransport serves canned HTML bodies by message id.
type fakeTransport struct {
	mu      sync.Mutex
	bodies  map[string]string
	errs    map[string]error
	delay   time.Duration
	fetched []string
}

func (f *fakeTransport) ListMessages(context.Context, services.MessageQuery) ([]services.MessageRef, error) {
	return nil, nil
}

func (f *fakeTransport) GetMessage(ctx context.Context, id string) (*gmail.MessagePart, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()

	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return &gmail.MessagePart{
		MimeType: "text/html",
		Body:     &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(f.bodies[id]))},
	}, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func testScanConfig() config.ScanConfig {
	cfg := config.DefaultScanConfig()
	cfg.BatchPauseMillis = 0
	return cfg
}

func link(href, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, href, text)
}

// inbox builds n messages, each holding one distinct backend posting.
func inbox(n int) (*fakeTransport, []services.MessageRef) {
	f := &fakeTransport{bodies: map[string]string{}, errs: map[string]error{}}
	refs := make([]services.MessageRef, n)
	for i := range refs {
		id := fmt.Sprintf("m%02d", i)
		refs[i] = services.MessageRef{ID: id}
		f.bodies[id] = link(fmt.Sprintf("https://jobs.example/%d", i), fmt.Sprintf("Backend Engineer %d", i))
	}
	return f, refs
}

func TestScan_AllBatches(t *testing.T) {
	f, refs := inbox(12)
	s := services.NewScanner(testScanConfig(), nil, nil)

	var progress []int
	res, err := s.Scan(context.Background(), f, refs, services.ScanOptions{
		Source:   "Gmail",
		Progress: func(done, total int) { progress = append(progress, done) },
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.State != services.ScanSucceeded {
		t.Errorf("State = %s, want succeeded", res.State)
	}
	if res.Processed != 12 || res.Failed != 0 || len(res.Jobs) != 12 {
		t.Errorf("processed=%d failed=%d jobs=%d, want 12/0/12", res.Processed, res.Failed, len(res.Jobs))
	}
	if fmt.Sprint(progress) != "[5 10 12]" {
		t.Errorf("progress = %v, want [5 10 12]", progress)
	}

	j := res.Jobs[0]
	if j.Status != models.StatusDetected || j.Source != "Gmail" || j.ID != services.StableJobID(j.ApplicationURL) {
		t.Errorf("job = %+v", j)
	}
}

func TestScan_CancelAfterFirstBatchKeepsItsJobs(t *testing.T) {
	f, refs := inbox(12)
	s := services.NewScanner(testScanConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := s.Scan(ctx, f, refs, services.ScanOptions{
		Progress: func(done, total int) {
			if done == 5 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.State != services.ScanCancelled || res.CancelReason != services.CancelByUser {
		t.Errorf("state=%s reason=%q, want cancelled/user", res.State, res.CancelReason)
	}
	if len(res.Jobs) != 5 || res.Processed != 5 {
		t.Errorf("jobs=%d processed=%d, want exactly the first batch (5)", len(res.Jobs), res.Processed)
	}
	if n := f.fetchCount(); n != 5 {
		t.Errorf("fetched %d messages after cancel, want 5", n)
	}
}

func TestScan_WatchdogCancels(t *testing.T) {
	f, refs := inbox(10)
	f.delay = 1100 * time.Millisecond
	cfg := testScanConfig()
	cfg.WatchdogSeconds = 1
	s := services.NewScanner(cfg, nil, nil)

	res, err := s.Scan(context.Background(), f, refs, services.ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.State != services.ScanCancelled || res.CancelReason != services.CancelByWatchdog {
		t.Errorf("state=%s reason=%q, want cancelled/watchdog", res.State, res.CancelReason)
	}
	// The in-flight batch still finishes and is merged.
	if len(res.Jobs) != 5 {
		t.Errorf("jobs = %d, want 5 from the in-flight batch", len(res.Jobs))
	}
}

func TestScan_MessageFailureIsContained(t *testing.T) {
	f, refs := inbox(6)
	f.errs["m02"] = errors.New("boom")
	f.bodies["m03"] = "" // decodes to nothing

	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), f, refs, services.ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Failed != 1 || res.Processed != 6 || len(res.Jobs) != 4 {
		t.Errorf("failed=%d processed=%d jobs=%d, want 1/6/4", res.Failed, res.Processed, len(res.Jobs))
	}
}

func TestScan_DuplicateURLKeepsEarliestMessage(t *testing.T) {
	f := &fakeTransport{bodies: map[string]string{
		"a": link("https://jobs.example/same", "Backend Engineer from A"),
		"b": link("https://jobs.example/same", "Backend Engineer from B"),
		"c": link("https://jobs.example/same", "Backend Engineer from C"),
	}}
	refs := []services.MessageRef{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	cfg := testScanConfig()
	cfg.BatchSize = 2

	for i := 0; i < 20; i++ {
		res, err := services.NewScanner(cfg, nil, nil).Scan(context.Background(), f, refs, services.ScanOptions{})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(res.Jobs) != 1 || res.Jobs[0].Title != "Backend Engineer from A" {
			t.Fatalf("run %d: jobs = %+v, want one job titled from A", i, res.Jobs)
		}
	}
}

func TestScan_ScoresBlendHeuristicConfidence(t *testing.T) {
	f := &fakeTransport{bodies: map[string]string{
		"m1": link("https://jobs.example/1", "Backend Engineer"),
		"m2": link("https://jobs.example/2", "Remote Backend Engineer"),
	}}
	refs := []services.MessageRef{{ID: "m1"}, {ID: "m2"}}
	s := services.NewScanner(testScanConfig(), nil, nil)

	res, err := s.Scan(context.Background(), f, refs, services.ScanOptions{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, j := range res.Jobs {
		if j.MatchScore != 80 {
			t.Errorf("%q: MatchScore = %d, want 80 with no preferences", j.Title, j.MatchScore)
		}
	}

	// Heuristic candidates sit in "Remote/Hybrid", so remoteOnly adds its
	// bonus: 80% of 110.
	prefs := &models.UserPreferences{TargetRoles: []string{"backend engineer"}, RemoteOnly: true}
	res, err = s.Scan(context.Background(), f, refs, services.ScanOptions{Preferences: prefs})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("jobs = %+v, want 2", res.Jobs)
	}
	for _, j := range res.Jobs {
		if j.MatchScore != 88 {
			t.Errorf("%q: MatchScore = %d, want 88", j.Title, j.MatchScore)
		}
	}
}

func TestScan_RoleFilterAndOrdering(t *testing.T) {
	f := &fakeTransport{bodies: map[string]string{
		"m1": link("https://jobs.example/1", "Frontend Developer") +
			link("https://jobs.example/2", "Backend Engineer Berlin") +
			link("https://jobs.example/3", "Backend Engineer"),
	}}
	prefs := &models.UserPreferences{TargetRoles: []string{"Backend Engineer"}, TargetLocations: []string{"berlin"}}

	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), f, []services.MessageRef{{ID: "m1"}},
		services.ScanOptions{Preferences: prefs})
	if !errors.Is(err, services.ErrNoMatchingJobs) {
		// Candidate locations are "Remote/Hybrid", so nothing is in Berlin.
		t.Fatalf("err = %v, want ErrNoMatchingJobs", err)
	}
	if res.State != services.ScanSucceeded || len(res.Jobs) != 0 {
		t.Errorf("state=%s jobs=%d", res.State, len(res.Jobs))
	}

	prefs.TargetLocations = nil
	res, err = services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), f, []services.MessageRef{{ID: "m1"}},
		services.ScanOptions{Preferences: prefs})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("jobs = %+v, want the two backend postings", res.Jobs)
	}
	if res.Jobs[0].ApplicationURL != "https://jobs.example/2" {
		t.Errorf("equal scores must keep discovery order, got %s first", res.Jobs[0].ApplicationURL)
	}
}

func TestScan_TokenExpiredStopsAfterBatch(t *testing.T) {
	f, refs := inbox(12)
	f.errs["m01"] = fmt.Errorf("get message m01: %w", services.ErrTokenExpired)

	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), f, refs, services.ScanOptions{})
	if !errors.Is(err, services.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if res.State != services.ScanFailed || !res.AuthExpired {
		t.Errorf("state=%s authExpired=%v", res.State, res.AuthExpired)
	}
	if res.Processed != 5 || len(res.Jobs) != 4 {
		t.Errorf("processed=%d jobs=%d, want 5/4 (partial results kept)", res.Processed, len(res.Jobs))
	}
}

func TestScan_TokenExpiredOutranksCancel(t *testing.T) {
	f, refs := inbox(12)
	f.errs["m01"] = fmt.Errorf("get message m01: %w", services.ErrTokenExpired)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(ctx, f, refs, services.ScanOptions{
		Progress: func(done, total int) {
			if done == 5 {
				cancel()
			}
		},
	})
	if !errors.Is(err, services.ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if res.State != services.ScanFailed || !res.AuthExpired || res.CancelReason != services.CancelByUser {
		t.Errorf("state=%s authExpired=%v reason=%q", res.State, res.AuthExpired, res.CancelReason)
	}
	if len(res.Jobs) != 4 {
		t.Errorf("jobs = %d, want the 4 found before expiry", len(res.Jobs))
	}
}

func TestScan_SeniorRoleWithUnsubscribeLink(t *testing.T) {
	f := &fakeTransport{bodies: map[string]string{
		"m1": link("https://jobs.example/senior-backend", "Senior Backend Engineer") +
			link("https://mail.example/unsubscribe", "Unsubscribe"),
	}}
	prefs := &models.UserPreferences{TargetRoles: []string{"Backend Engineer"}}

	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), f,
		[]services.MessageRef{{ID: "m1"}},
		services.ScanOptions{Preferences: prefs, Keywords: prefs.TargetRoles, Source: "Gmail"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Jobs) != 1 {
		t.Fatalf("jobs = %+v, want exactly one", res.Jobs)
	}
	job := res.Jobs[0]
	if job.Title != "Senior Backend Engineer" || job.Status != models.StatusDetected || job.MatchScore != 80 {
		t.Errorf("job = %+v, want the detected backend role scored 80", job)
	}
}

func TestScan_EmptyInbox(t *testing.T) {
	res, err := services.NewScanner(testScanConfig(), nil, nil).Scan(context.Background(), &fakeTransport{}, nil, services.ScanOptions{})
	if !errors.Is(err, services.ErrNoMatchingJobs) {
		t.Fatalf("err = %v, want ErrNoMatchingJobs", err)
	}
	if res.State != services.ScanSucceeded || res.Jobs == nil {
		t.Errorf("state=%s jobs=%v", res.State, res.Jobs)
	}
}

type fakeAI struct {
	out []models.JobCandidate
	err error
}

func (f fakeAI) ExtractJobsFromEmail(context.Context, string) ([]models.JobCandidate, error) {
	return f.out, f.err
}

func TestScan_UseAI(t *testing.T) {
	f := &fakeTransport{bodies: map[string]string{"m1": link("https://jobs.example/h", "Backend Engineer")}}
	refs := []services.MessageRef{{ID: "m1"}}

	ai := fakeAI{out: []models.JobCandidate{{Title: "Staff Engineer", Company: "Acme", Location: "Remote", ApplicationURL: "https://acme.example/1", MatchScore: 100}}}
	res, err := services.NewScanner(testScanConfig(), ai, nil).Scan(context.Background(), f, refs, services.ScanOptions{UseAI: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Company != "Acme" || res.Jobs[0].MatchScore != 100 {
		t.Errorf("jobs = %+v, want the model's candidate at 100", res.Jobs)
	}

	failing := fakeAI{err: errors.New("quota")}
	res, err = services.NewScanner(testScanConfig(), failing, nil).Scan(context.Background(), f, refs, services.ScanOptions{UseAI: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].ApplicationURL != "https://jobs.example/h" {
		t.Errorf("jobs = %+v, want the heuristic fallback", res.Jobs)
	}
}
