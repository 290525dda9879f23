package models

import (
	"strings"
	"time"
)

// Placeholders used when a scanned email does not say who is hiring or where.
const (
	CompanyReviewRequired = "Review Required"
	LocationRemoteHybrid  = "Remote/Hybrid"
)

// Job sources.
const (
	SourceManual       = "Manual"
	SourceImportedLink = "Imported Link"
)

// Job is a tracked posting. Rows are keyed by (user_id, id) so two users can
// hold the same opaque id without touching each other's records.
type Job struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"primaryKey;index" json:"-"`

	Title        string   `gorm:"not null" json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Description  string   `gorm:"type:text" json:"description"`
	SalaryRange  string   `json:"salaryRange"`
	Requirements []string `gorm:"serializer:json" json:"requirements"`
	Notes        string   `gorm:"type:text" json:"notes"`
	LogoURL      string   `json:"logoUrl"`

	Status         JobStatus `gorm:"default:'detected'" json:"status"`
	Source         string    `json:"source"`
	DetectedAt     time.Time `json:"detectedAt"`
	ApplicationURL string    `json:"applicationUrl"`

	CustomizedResume string `gorm:"type:text" json:"customizedResume"`
	CoverLetter      string `gorm:"type:text" json:"coverLetter"`

	MatchScore int `json:"matchScore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobEvent is one entry of a job's history (status change, generated asset).
type JobEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `gorm:"index:idx_job_events_owner" json:"-"`
	JobID     string    `gorm:"index:idx_job_events_owner" json:"job_id"`
	EventType string    `json:"event_type"`
	Details   string    `gorm:"type:text" json:"details"`
}

// Event types recorded against a job.
const (
	EventStatusChange   = "STATUS_CHANGE"
	EventResumeTailored = "RESUME_TAILORED"
	EventCoverLetter    = "COVER_LETTER"
)

// UserPreferences drive relevance scoring. Empty role or location lists are
// open filters, not reject-all filters.
type UserPreferences struct {
	TargetRoles     []string `json:"targetRoles"`
	TargetLocations []string `json:"targetLocations"`
	MinSalary       string   `json:"minSalary"`
	RemoteOnly      bool     `json:"remoteOnly"`
	Language        string   `json:"language"`
}

// Normalize replaces nil slices with empty ones, drops blank entries and
// defaults the language.
func (p UserPreferences) Normalize() UserPreferences {
	p.TargetRoles = compact(p.TargetRoles)
	p.TargetLocations = compact(p.TargetLocations)
	if p.Language == "" {
		p.Language = "en"
	}
	return p
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Profile is the single profile record owned by one caller identity.
type Profile struct {
	UserID         string          `gorm:"primaryKey" json:"id"`
	FullName       string          `json:"fullName"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	ResumeContent  string          `gorm:"type:text" json:"resumeContent"`
	ResumeFileName string          `json:"resumeFileName"`
	Preferences    UserPreferences `gorm:"serializer:json" json:"preferences"`
	Plan           string          `gorm:"default:'free'" json:"plan"`
	DailyAICredits int             `json:"dailyAiCredits"`
	TotalAIUsed    int             `json:"totalAiUsed"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobCandidate is an unconfirmed posting pulled out of an email. It only
// becomes a Job once the scan caller imports it.
type JobCandidate struct {
	Title          string `json:"title"`
	Company        string `json:"company"`
	Location       string `json:"location"`
	ApplicationURL string `json:"applicationUrl"`
	MatchScore     int    `json:"matchScore"`
}

// EmailProvider names a mailbox provider a session can connect to.
type EmailProvider string

const (
	ProviderGmail   EmailProvider = "Gmail"
	ProviderOutlook EmailProvider = "Outlook"
	ProviderYahoo   EmailProvider = "Yahoo"
	ProviderApple   EmailProvider = "Apple"
)

// ParseEmailProvider matches a provider name case-insensitively.
func ParseEmailProvider(s string) (EmailProvider, bool) {
	for _, p := range []EmailProvider{ProviderGmail, ProviderOutlook, ProviderYahoo, ProviderApple} {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, true
		}
	}
	return "", false
}

// EmailAccount is the mailbox connection of one session. It lives in process
// memory only and is never written to the store.
type EmailAccount struct {
	Provider     EmailProvider `json:"provider"`
	EmailAddress string        `json:"emailAddress"`
	AccessToken  string        `json:"-"`
	IsConnected  bool          `json:"isConnected"`
	LastSynced   time.Time     `json:"lastSynced,omitzero"`
}
