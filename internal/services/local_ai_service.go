package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	emailRe      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	summaryRe    = regexp.MustCompile(`(?i)summary|objective`)
	nextHeaderRe = regexp.MustCompile(`\n[A-Z_]+`)
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)

	stopwords = map[string]bool{
		"the": true, "and": true, "or": true, "a": true, "an": true, "in": true, "on": true,
		"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	}
)

// topKeywords returns the ten most frequent words longer than three letters,
// capitalized. Ties keep first-appearance order.
func topKeywords(text string) []string {
	words := strings.Fields(nonWordRe.ReplaceAllString(strings.ToLower(text), ""))

	freq := map[string]int{}
	var order []string
	for _, w := range words {
		if stopwords[w] || utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > 10 {
		order = order[:10]
	}

	out := make([]string, len(order))
	for i, w := range order {
		r, size := utf8.DecodeRuneInString(w)
		out[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return out
}

// LocalCoverLetter is the template letter used when no model is configured.
func LocalCoverLetter(req GenerationRequest, today time.Time) string {
	target := req.Company
	if isPlaceholderCompany(target) {
		target = "Hiring Manager"
	}
	skills := topKeywords(req.Description)
	if len(skills) > 3 {
		skills = skills[:3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n\n%s\n\nRE: Application for %s\n\nDear %s,\n\n",
		req.Name, req.Email, today.Format("January 2, 2006"), target, req.Title, target)
	fmt.Fprintf(&b, "I am writing to express my strong interest in the %s position at %s. ", req.Title, target)
	fmt.Fprintf(&b, "Having reviewed the job description, I am excited about the opportunity to contribute my skills in %s to your team. ", strings.Join(skills, ", "))
	b.WriteString("My experience aligns closely with your requirements, and I am eager to discuss how my background can benefit your organization.\n\n")
	b.WriteString("Thank you for your time and consideration.\n\nSincerely,\n\n")
	b.WriteString(req.Name)
	return b.String()
}

// LocalTailorResume rewrites contact addresses and replaces the summary
// section with a targeted one, or prepends it when the resume has none.
func LocalTailorResume(req GenerationRequest) string {
	target := req.Company
	if isPlaceholderCompany(target) {
		target = "Your Organization"
	}
	summary := fmt.Sprintf("\nCONTACT: %s\n\nPROFESSIONAL SUMMARY FOR %s\n%s\nDedicated professional targeting the %s role. Relevant expertise: %s.\n",
		req.Email, strings.ToUpper(target), strings.Repeat("-", 50), req.Title, strings.Join(topKeywords(req.Description), ", "))

	resume := req.Resume
	if req.Email != "" {
		resume = emailRe.ReplaceAllLiteralString(resume, req.Email)
	}

	loc := summaryRe.FindStringIndex(resume)
	if loc == nil {
		return summary + "\n" + resume
	}
	// The section runs up to the next line that starts with a heading.
	next := nextHeaderRe.FindStringIndex(resume[loc[1]:])
	if next == nil {
		return resume
	}
	end := loc[1] + next[0]
	return resume[:loc[0]] + summary + resume[end:]
}
