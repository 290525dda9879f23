package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
)

const (
	minTitleLen         = 4
	maxTitleLen         = 100
	maxExtractedJobs    = 10
	heuristicConfidence = 80
)

var (
	jobTitleRe = regexp.MustCompile(`(?i)(?:software|systems|data|site|reliability|qa|test|frontend|backend|full.?stack|devops|cloud|network|security|product|project|program|account|sales|marketing|business|customer|support|human.?resources|human|hr|legal|finance|operations)\s+(?:engineer|developer|architect|admin|manager|director|lead|specialist|analyst|associate|representative|executive|consultant)|programmer|coder|technician|designer`)

	// Navigation and footer chrome found in alert emails.
	blacklistRe = regexp.MustCompile(`(?i)unsubscribe|privacy|policy|view in browser|profile|settings|preferences|help|support|login|log in|sign in|sign-in|forgot password|password reset|reset password|terms|conditions|read more|apply now|click here|browser|email me|alert`)
)

// ExtractJobs pulls job-posting links out of an email body. With a non-empty
// keyword list a link qualifies when its text contains any keyword; otherwise
// it has to look like a job title. Results are unique by href (the last
// occurrence wins, the first occurrence keeps its position) and capped at ten.
func ExtractJobs(html string, keywords []string) []models.JobCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}

	var order []string
	byURL := map[string]models.JobCandidate{}

	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		text := strings.TrimSpace(a.Text())
		if n := utf8.RuneCountInString(text); n < minTitleLen || n > maxTitleLen {
			return
		}
		if blacklistRe.MatchString(text) {
			return
		}
		if !qualifies(text, lowered) {
			return
		}

		if _, seen := byURL[href]; !seen {
			order = append(order, href)
		}
		byURL[href] = models.JobCandidate{
			Title:          text,
			Company:        models.CompanyReviewRequired,
			Location:       models.LocationRemoteHybrid,
			ApplicationURL: href,
			MatchScore:     heuristicConfidence,
		}
	})

	if len(order) > maxExtractedJobs {
		order = order[:maxExtractedJobs]
	}
	out := make([]models.JobCandidate, 0, len(order))
	for _, href := range order {
		out = append(out, byURL[href])
	}
	return out
}

func qualifies(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return jobTitleRe.MatchString(text)
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
