package dtos

import "github.com/justsurfingit/inbox-job-tracker/internal/models"

// EmailConnectRequest connects a mailbox with a pasted credential: an OAuth
// access token for Gmail, an app password for IMAP providers.
type EmailConnectRequest struct {
	Provider     string `json:"provider" binding:"required"`
	EmailAddress string `json:"emailAddress"`
	AccessToken  string `json:"accessToken" binding:"required"`
}

type OAuthURLResponse struct {
	URL string `json:"url"`
}

type OAuthExchangeRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

type EmailStatusResponse struct {
	Account  *models.EmailAccount `json:"account"`
	Scanning bool                 `json:"scanning"`
}
