package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/database"
	"github.com/justsurfingit/inbox-job-tracker/internal/handlers"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
	"google.golang.org/api/gmail/v1"
)

var dbSeq atomic.Int64

type stubMailbox struct {
	address string
	listErr error
	// hang makes ListMessages block until its context ends.
	hang   bool
	bodies map[string]string
}

func (m *stubMailbox) EmailAddress(context.Context) (string, error) { return m.address, nil }

func (m *stubMailbox) ListMessages(ctx context.Context, _ services.MessageQuery) ([]services.MessageRef, error) {
	if m.hang {
		<-ctx.Done()
		return nil, fmt.Errorf("list messages: %w", ctx.Err())
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	refs := make([]services.MessageRef, 0, len(m.bodies))
	for i := range len(m.bodies) {
		refs = append(refs, services.MessageRef{ID: fmt.Sprintf("m%d", i)})
	}
	return refs, nil
}

func (m *stubMailbox) GetMessage(_ context.Context, id string) (*gmail.MessagePart, error) {
	return &gmail.MessagePart{
		MimeType: "text/html",
		Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(m.bodies[id]))},
	}, nil
}

func (m *stubMailbox) Close() error { return nil }

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("model quota exhausted")
}

type testAPI struct {
	router  *gin.Engine
	mailbox *stubMailbox
	// opened records the account of every transport the API opened.
	opened []models.EmailAccount
}

func newTestAPI(t *testing.T, gen services.TextGenerator) *testAPI {
	t.Helper()
	return newTestAPIWithScan(t, gen, func(*config.ScanConfig) {})
}

func newTestAPIWithScan(t *testing.T, gen services.TextGenerator, tune func(*config.ScanConfig)) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect("sqlite", fmt.Sprintf("file:handlers_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("database.Connect: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mailbox := &stubMailbox{
		address: "ada@gmail.com",
		bodies: map[string]string{
			"m0": `<a href="https://jobs.example/1">Backend Engineer</a>`,
			"m1": `<a href="https://jobs.example/2">Data Analyst</a><a href="https://jobs.example/1">Backend Engineer</a>`,
		},
	}
	api := &testAPI{mailbox: mailbox}
	transports := func(_ context.Context, acc models.EmailAccount) (services.MailTransport, error) {
		api.opened = append(api.opened, acc)
		if acc.Provider == models.ProviderOutlook {
			return nil, services.ErrUnsupportedProvider
		}
		return mailbox, nil
	}

	scan := config.DefaultScanConfig()
	scan.BatchPauseMillis = 0
	tune(&scan)
	llm := services.NewLLMService(gen, nil)

	api.router = handlers.NewRouter(handlers.Deps{
		Verifier:   auth.DevVerifier{},
		Jobs:       services.NewJobService(db),
		Profiles:   services.NewProfileService(db),
		Sessions:   services.NewSessionStore(),
		Scanner:    services.NewScanner(scan, nil, nil),
		Transports: transports,
		LLM:        llm,
		Links:      services.NewLinkImporter(services.NewPageFetcher(0), llm, nil),
		Scan:       scan,
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer dev:"+user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthAndAuth(t *testing.T) {
	api := newTestAPI(t, nil)

	if w := api.do(t, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
	w := api.do(t, http.MethodGet, "/api/v1/jobs", "", nil)
	if w.Code != http.StatusUnauthorized || w.Body.String() != `{"error":"unauthorized"}` {
		t.Errorf("unauthenticated /jobs = %d %s", w.Code, w.Body.String())
	}
}

func TestJobsLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/jobs", "alice", map[string]any{"title": "SRE", "company": "Acme"})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	created := decode[struct{ Job models.Job }](t, w).Job
	if created.ID == "" || created.Status != models.StatusDetected {
		t.Fatalf("created = %+v", created)
	}

	if w := api.do(t, http.MethodPost, "/api/v1/jobs", "alice", map[string]any{"company": "No title"}); w.Code != http.StatusBadRequest {
		t.Errorf("create without title = %d", w.Code)
	}

	status := "/api/v1/jobs/" + created.ID + "/status"
	if w := api.do(t, http.MethodPatch, status, "alice", map[string]string{"status": "saved"}); w.Code != http.StatusOK {
		t.Errorf("detected → saved = %d %s", w.Code, w.Body.String())
	}
	if w := api.do(t, http.MethodPatch, status, "alice", map[string]string{"status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status = %d", w.Code)
	}
	if w := api.do(t, http.MethodPatch, status, "alice", map[string]string{"status": "detected"}); w.Code != http.StatusConflict {
		t.Errorf("saved → detected = %d", w.Code)
	}
	if w := api.do(t, http.MethodPatch, status, "bob", map[string]string{"status": "saved"}); w.Code != http.StatusNotFound {
		t.Errorf("bob updating alice's job = %d", w.Code)
	}

	events := decode[struct{ Events []models.JobEvent }](t, api.do(t, http.MethodGet, "/api/v1/jobs/"+created.ID+"/events", "alice", nil)).Events
	if len(events) != 1 || events[0].EventType != models.EventStatusChange {
		t.Errorf("events = %+v", events)
	}

	if w := api.do(t, http.MethodDelete, "/api/v1/jobs?id="+created.ID, "alice", nil); w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	jobs := decode[struct{ Jobs []models.Job }](t, api.do(t, http.MethodGet, "/api/v1/jobs", "alice", nil)).Jobs
	if len(jobs) != 0 {
		t.Errorf("jobs after delete = %+v", jobs)
	}
}

func TestProfile(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/profile", "alice", nil)
	if w.Code != http.StatusOK || w.Body.String() != "null" {
		t.Errorf("absent profile = %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPost, "/api/v1/profile", "alice", map[string]any{
		"fullName":    "Ada",
		"preferences": map[string]any{"targetRoles": []string{"Backend"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save profile = %d %s", w.Code, w.Body.String())
	}
	p := decode[models.Profile](t, w)
	if p.FullName != "Ada" || p.Plan != "free" {
		t.Errorf("profile = %+v", p)
	}
}

func TestScan_RequiresConnectedMailbox(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/scan", "alice", nil)
	if w.Code != http.StatusPreconditionRequired || !strings.Contains(w.Body.String(), `"code":"no_email_account"`) {
		t.Errorf("scan without mailbox = %d %s", w.Code, w.Body.String())
	}
}

func TestConnectAndScan(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{
		"provider":    "gmail",
		"accessToken": `"Bearer ya29.token"`,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("connect = %d %s", w.Code, w.Body.String())
	}
	status := decode[struct {
		Account models.EmailAccount
	}](t, w)
	if status.Account.EmailAddress != "ada@gmail.com" || !status.Account.IsConnected {
		t.Errorf("account = %+v", status.Account)
	}

	w = api.do(t, http.MethodPost, "/api/v1/scan", "alice", map[string]any{"days": 90})
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		State     string
		Outcome   string
		Jobs      []models.Job
		Processed int
	}](t, w)
	if resp.Outcome != "succeeded" || resp.Processed != 2 {
		t.Errorf("scan response = %+v", resp)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("jobs = %+v, want the two distinct postings", resp.Jobs)
	}
	if resp.Jobs[0].Source != "Gmail" || resp.Jobs[0].ID != services.StableJobID(resp.Jobs[0].ApplicationURL) {
		t.Errorf("job = %+v", resp.Jobs[0])
	}

	// Scan results are not stored until imported.
	if jobs := decode[struct{ Jobs []models.Job }](t, api.do(t, http.MethodGet, "/api/v1/jobs", "alice", nil)).Jobs; len(jobs) != 0 {
		t.Errorf("scan stored jobs: %+v", jobs)
	}
	w = api.do(t, http.MethodPost, "/api/v1/jobs/import", "alice", map[string]any{"jobs": resp.Jobs})
	if added := decode[struct{ Added int }](t, w).Added; added != 2 {
		t.Errorf("first import added %d", added)
	}
	w = api.do(t, http.MethodPost, "/api/v1/jobs/import", "alice", map[string]any{"jobs": resp.Jobs})
	if added := decode[struct{ Added int }](t, w).Added; added != 0 {
		t.Errorf("second import added %d", added)
	}

	w = api.do(t, http.MethodGet, "/api/v1/email/status", "alice", nil)
	if st := decode[struct{ Account *models.EmailAccount }](t, w); st.Account == nil || st.Account.LastSynced.IsZero() {
		t.Errorf("status after scan = %s", w.Body.String())
	}
}

func TestScan_NoMatches(t *testing.T) {
	api := newTestAPI(t, nil)
	api.mailbox.bodies = map[string]string{"m0": `<p>Your weekly newsletter</p>`}
	api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{"provider": "Gmail", "accessToken": "tok"})

	w := api.do(t, http.MethodPost, "/api/v1/scan", "alice", nil)
	resp := decode[struct {
		Outcome string
		Message string
		Jobs    []models.Job
	}](t, w)
	if w.Code != http.StatusOK || resp.Outcome != "no_matches" || resp.Message != "No matching jobs found." || resp.Jobs == nil {
		t.Errorf("scan = %d %s", w.Code, w.Body.String())
	}
}

func TestScan_TokenExpired(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{"provider": "Gmail", "accessToken": "tok"})
	api.mailbox.listErr = fmt.Errorf("list: %w", services.ErrTokenExpired)

	w := api.do(t, http.MethodPost, "/api/v1/scan", "alice", nil)
	if w.Code != http.StatusPreconditionRequired || !strings.Contains(w.Body.String(), `"code":"token_expired"`) {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}

	st := decode[struct{ Account *models.EmailAccount }](t, api.do(t, http.MethodGet, "/api/v1/email/status", "alice", nil))
	if st.Account == nil || st.Account.IsConnected {
		t.Errorf("account after expiry = %+v", st.Account)
	}
	if w := api.do(t, http.MethodPost, "/api/v1/scan", "alice", nil); w.Code != http.StatusPreconditionRequired {
		t.Errorf("rescan after expiry = %d", w.Code)
	}
}

func TestScan_WatchdogCoversMessageListing(t *testing.T) {
	api := newTestAPIWithScan(t, nil, func(c *config.ScanConfig) { c.WatchdogSeconds = 1 })
	api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{"provider": "Gmail", "accessToken": "tok"})
	api.mailbox.hang = true

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scan", nil)
	req.Header.Set("Authorization", "Bearer dev:alice")
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		done <- rec
	}()

	var w *httptest.ResponseRecorder
	select {
	case w = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan still blocked well past its 1s watchdog")
	}
	resp := decode[struct {
		State   string
		Outcome string
		Message string
	}](t, w)
	if w.Code != http.StatusOK || resp.Outcome != "cancelled" || resp.Message != "Scan cancelled (watchdog)." {
		t.Errorf("scan = %d %s", w.Code, w.Body.String())
	}
	if w := api.do(t, http.MethodGet, "/api/v1/email/status", "alice", nil); strings.Contains(w.Body.String(), `"scanning":true`) {
		t.Errorf("session still scanning: %s", w.Body.String())
	}
}

func TestScan_UsesAccountLockedForTheScan(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{"provider": "Gmail", "accessToken": "first"})
	api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", map[string]string{"provider": "Gmail", "accessToken": "second"})
	api.opened = nil

	if w := api.do(t, http.MethodPost, "/api/v1/scan", "alice", nil); w.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}
	if len(api.opened) != 1 || api.opened[0].AccessToken != "second" {
		t.Errorf("scan opened %+v, want one transport on the current token", api.opened)
	}
}

func TestConnect_Rejections(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"unknown provider", map[string]string{"provider": "AOL", "accessToken": "x"}, http.StatusBadRequest},
		{"blank token", map[string]string{"provider": "Gmail", "accessToken": `""`}, http.StatusBadRequest},
		{"imap without address", map[string]string{"provider": "Yahoo", "accessToken": "app-pass"}, http.StatusBadRequest},
		{"outlook", map[string]string{"provider": "Outlook", "accessToken": "x", "emailAddress": "a@outlook.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := api.do(t, http.MethodPost, "/api/v1/email/connect", "alice", tt.body); w.Code != tt.want {
				t.Errorf("connect = %d %s, want %d", w.Code, w.Body.String(), tt.want)
			}
		})
	}

	if w := api.do(t, http.MethodGet, "/api/v1/email/oauth/url", "alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("oauth url without config = %d", w.Code)
	}
}

func TestGenerate(t *testing.T) {
	body := map[string]string{
		"title":       "SRE",
		"company":     "Acme",
		"description": "Operate Kubernetes clusters",
		"resume":      "SUMMARY\n- old\nSKILLS\nGo",
		"name":        "Ada",
	}

	t.Run("local generation", func(t *testing.T) {
		api := newTestAPI(t, nil)
		w := api.do(t, http.MethodPost, "/api/v1/generate/cover-letter", "alice", body)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Dear Acme,") {
			t.Errorf("cover letter = %d %s", w.Code, w.Body.String())
		}
		if w := api.do(t, http.MethodPost, "/api/v1/generate/resume", "alice", map[string]string{"title": "SRE"}); w.Code != http.StatusBadRequest {
			t.Errorf("missing fields = %d", w.Code)
		}
	})

	t.Run("stores on job", func(t *testing.T) {
		api := newTestAPI(t, nil)
		w := api.do(t, http.MethodPost, "/api/v1/jobs", "alice", map[string]any{"id": "job-1", "title": "SRE"})
		if w.Code != http.StatusOK {
			t.Fatalf("create = %d", w.Code)
		}

		withJob := map[string]string{"jobId": "job-1"}
		for k, v := range body {
			withJob[k] = v
		}
		if w := api.do(t, http.MethodPost, "/api/v1/generate/resume", "alice", withJob); w.Code != http.StatusOK {
			t.Fatalf("resume = %d %s", w.Code, w.Body.String())
		}
		jobs := decode[struct{ Jobs []models.Job }](t, api.do(t, http.MethodGet, "/api/v1/jobs", "alice", nil)).Jobs
		if len(jobs) != 1 || !strings.Contains(jobs[0].CustomizedResume, "PROFESSIONAL SUMMARY FOR ACME") {
			t.Errorf("jobs = %+v", jobs)
		}

		withJob["jobId"] = "missing"
		if w := api.do(t, http.MethodPost, "/api/v1/generate/resume", "alice", withJob); w.Code != http.StatusNotFound {
			t.Errorf("missing job = %d", w.Code)
		}
	})

	t.Run("model failure is surfaced", func(t *testing.T) {
		api := newTestAPI(t, failingGenerator{})
		w := api.do(t, http.MethodPost, "/api/v1/generate/cover-letter", "alice", body)
		if w.Code != http.StatusBadGateway || !strings.Contains(w.Body.String(), "model quota exhausted") {
			t.Errorf("cover letter = %d %s", w.Code, w.Body.String())
		}
	})
}
