package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const (
	maxEmailPromptChars = 20000
	maxPagePromptChars  = 20000
	aiConfidence        = 100
)

// ErrGenerationFailed wraps any model failure. The wrapped text is shown to
// the user as-is.
var ErrGenerationFailed = errors.New("generation failed")

// TextGenerator is the one call the service needs from a model.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type langchainGenerator struct {
	model llms.Model
}

func (g langchainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (TextGenerator, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return langchainGenerator{model: llm}, nil
}

// GenerationRequest carries what the generators need about the job and the
// candidate.
type GenerationRequest struct {
	Title       string
	Company     string
	Description string
	Resume      string
	Name        string
	Email       string
}

// ExtractedJob is a posting read from a web page.
type ExtractedJob struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	SalaryRange  string   `json:"salaryRange"`
	Requirements []string `json:"requirements"`
}

// ExtractionFailedJob is the placeholder returned when a page cannot be read,
// so the user can fill the details in by hand.
func ExtractionFailedJob(reason string) ExtractedJob {
	return ExtractedJob{
		Title:        "Extraction Failed",
		Company:      "Unknown",
		Location:     "Remote",
		Description:  reason + " Please enter details manually.",
		Requirements: []string{},
	}
}

// LLMService generates documents and extracts postings with a language
// model. Without a generator it falls back to local templates where one
// exists.
type LLMService struct {
	gen TextGenerator
	log *logging.Logger
	now func() time.Time
}

// NewLLMService wraps gen, which may be nil.
func NewLLMService(gen TextGenerator, log *logging.Logger) *LLMService {
	if log == nil {
		log = logging.NewNop()
	}
	return &LLMService{gen: gen, log: log, now: time.Now}
}

// Enabled reports whether a model is configured.
func (s *LLMService) Enabled() bool {
	return s != nil && s.gen != nil
}

func (s *LLMService) GenerateCoverLetter(ctx context.Context, req GenerationRequest) (string, error) {
	if !s.Enabled() {
		return LocalCoverLetter(req, s.now()), nil
	}

	company := req.Company
	if isPlaceholderCompany(company) {
		company = `Carefully scan the job description below to identify the actual company name. If not found, use "Hiring Manager".`
	}
	prompt := fmt.Sprintf(`Write a professional, high-impact cover letter for the %s position.

CONTEXT:
- Target Company: %s
- Candidate: %s (%s)
- Job Title: %s
- Job Description: %s
- Candidate Resume: %s

REQUIREMENTS:
1. Keep cover letter under 400 words
2. Match candidate skills to job requirements
3. NEVER use placeholder text like "Review Required", "Unknown Company", "Check Site", or "Check Description"
4. Use professional tone and ATS-friendly formatting
5. Include specific accomplishments from resume that align with job requirements`,
		req.Title, company, req.Name, req.Email, req.Title, req.Description, req.Resume)

	return s.generate(ctx, prompt)
}

func (s *LLMService) TailorResume(ctx context.Context, req GenerationRequest) (string, error) {
	if !s.Enabled() {
		return LocalTailorResume(req), nil
	}

	company := req.Company
	if isPlaceholderCompany(company) {
		company = "the target company"
	}
	prompt := fmt.Sprintf(`Tailor this resume for a %s role at %s.

Email: %s

Original Resume:
%s

Job Description:
%s

INSTRUCTIONS:
1. Reorder experience to highlight relevant skills first
2. Adapt bullet points to match job description keywords
3. Emphasize achievements with metrics (e.g., increased by X%%, saved Y hours)
4. Keep the same length and structure
5. Focus on ATS optimization with proper formatting`,
		req.Title, company, req.Email, req.Resume, req.Description)

	return s.generate(ctx, prompt)
}

// generate makes exactly one model call.
func (s *LLMService) generate(ctx context.Context, prompt string) (string, error) {
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn("model call failed", "err", err)
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response from model", ErrGenerationFailed)
	}
	return text, nil
}

// ExtractJobsFromEmail asks the model for the postings in an email body.
// Entries without a title or an http(s) link are dropped.
func (s *LLMService) ExtractJobsFromEmail(ctx context.Context, html string) ([]models.JobCandidate, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: no model configured", ErrGenerationFailed)
	}
	html = truncateRunes(html, maxEmailPromptChars)

	prompt := `Extract ALL job postings from this email HTML. Return ONLY a JSON object of the form
{"jobs": [{"title": "", "company": "", "location": "", "applicationUrl": ""}]}

Use an empty string for anything the email does not state. Do not invent links.

HTML Content:
` + html

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseCandidates(text)
}

// ExtractJobDetails asks the model for structured details of a posting page.
func (s *LLMService) ExtractJobDetails(ctx context.Context, pageText string) (*ExtractedJob, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: no model configured", ErrGenerationFailed)
	}
	pageText = truncateRunes(pageText, maxPagePromptChars)

	prompt := `You are a job data extraction agent. Analyze the job posting text below.
Ignore navigation menus, footers, "similar jobs" lists and advertisements.
Return VALID JSON only, no markdown, with exactly these fields:
{
  "title": "",
  "company": "",
  "location": "",
  "description": "",
  "salary": "",
  "requirements": []
}
If a piece of information is missing, use an empty string. Do not guess.

RAW CONTENT:
` + pageText

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	obj, ok := jsonPayload(text, '{', '}')
	if !ok {
		return nil, fmt.Errorf("%w: model reply is not JSON", ErrGenerationFailed)
	}
	r := gjson.Parse(obj)
	job := &ExtractedJob{
		Title:        strings.TrimSpace(r.Get("title").String()),
		Company:      strings.TrimSpace(r.Get("company").String()),
		Location:     strings.TrimSpace(r.Get("location").String()),
		Description:  strings.TrimSpace(r.Get("description").String()),
		SalaryRange:  strings.TrimSpace(r.Get("salary").String()),
		Requirements: []string{},
	}
	r.Get("requirements").ForEach(func(_, v gjson.Result) bool {
		if req := strings.TrimSpace(v.String()); req != "" {
			job.Requirements = append(job.Requirements, req)
		}
		return true
	})
	if job.Title == "" {
		return nil, fmt.Errorf("%w: no job title in model reply", ErrGenerationFailed)
	}
	if job.Company == "" {
		job.Company = "Unknown"
	}
	if job.Location == "" {
		job.Location = "Remote"
	}
	return job, nil
}

// parseCandidates reads {"jobs": [...]} or a bare array out of a model reply.
func parseCandidates(text string) ([]models.JobCandidate, error) {
	var list gjson.Result
	if obj, ok := jsonPayload(text, '{', '}'); ok {
		list = gjson.Get(obj, "jobs")
	}
	if !list.IsArray() {
		arr, ok := jsonPayload(text, '[', ']')
		if !ok {
			return nil, fmt.Errorf("%w: model reply is not JSON", ErrGenerationFailed)
		}
		list = gjson.Parse(arr)
	}

	var out []models.JobCandidate
	list.ForEach(func(_, v gjson.Result) bool {
		title := strings.TrimSpace(v.Get("title").String())
		link := strings.TrimSpace(v.Get("applicationUrl").String())
		if title == "" || !(strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://")) {
			return true
		}
		c := models.JobCandidate{
			Title:          title,
			Company:        strings.TrimSpace(v.Get("company").String()),
			Location:       strings.TrimSpace(v.Get("location").String()),
			ApplicationURL: link,
			MatchScore:     aiConfidence,
		}
		if c.Company == "" {
			c.Company = models.CompanyReviewRequired
		}
		if c.Location == "" {
			c.Location = models.LocationRemoteHybrid
		}
		out = append(out, c)
		return true
	})
	return out, nil
}

// jsonPayload cuts the outermost first...last span out of text, which drops
// markdown fences and chatter around the JSON.
func jsonPayload(text string, first, last byte) (string, bool) {
	i := strings.IndexByte(text, first)
	j := strings.LastIndexByte(text, last)
	if i < 0 || j <= i {
		return "", false
	}
	s := text[i : j+1]
	return s, gjson.Valid(s)
}

func isPlaceholderCompany(company string) bool {
	c := strings.ToLower(strings.TrimSpace(company))
	return c == "" || strings.Contains(c, "review") || strings.Contains(c, "unknown")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
