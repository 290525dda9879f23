package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

// Deps is everything the HTTP layer needs. OAuth may be nil, which turns the
// consent endpoints off.
type Deps struct {
	Log        *logging.Logger
	Verifier   auth.Verifier
	Jobs       *services.JobService
	Profiles   *services.ProfileService
	Sessions   *services.SessionStore
	Scanner    *services.Scanner
	Transports services.TransportFactory
	LLM        *services.LLMService
	Links      *services.LinkImporter
	OAuth      *auth.OAuthFlow
	Scan       config.ScanConfig
	Origins    []string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = logging.NewNop()
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(d.Origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = d.Origins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	jobHandler := NewJobHandler(d.Jobs, d.Links, d.Log)
	profileHandler := NewProfileHandler(d.Profiles, d.Log)
	emailHandler := NewEmailHandler(d.Sessions, d.Transports, d.OAuth, d.Log)
	scanHandler := NewScanHandler(d.Sessions, d.Profiles, d.Scanner, d.Transports, d.Scan, d.Log)
	generateHandler := NewGenerateHandler(d.LLM, d.Jobs, d.Log)

	api := r.Group("/api/v1")
	api.GET("/health", HealthCheck)

	authed := api.Group("", auth.RequireUser(d.Verifier))
	{
		authed.GET("/jobs", jobHandler.List)
		authed.POST("/jobs", jobHandler.Upsert)
		authed.DELETE("/jobs", jobHandler.Delete)
		authed.POST("/jobs/import", jobHandler.Import)
		authed.POST("/jobs/extract", jobHandler.Extract)
		authed.PATCH("/jobs/:id/status", jobHandler.UpdateStatus)
		authed.GET("/jobs/:id/events", jobHandler.Events)

		authed.GET("/profile", profileHandler.Get)
		authed.POST("/profile", profileHandler.Save)

		authed.GET("/email/status", emailHandler.Status)
		authed.POST("/email/connect", emailHandler.Connect)
		authed.DELETE("/email/connect", emailHandler.Disconnect)
		authed.GET("/email/oauth/url", emailHandler.OAuthURL)
		authed.POST("/email/oauth/exchange", emailHandler.OAuthExchange)

		authed.POST("/scan", scanHandler.Run)
		authed.POST("/scan/cancel", scanHandler.Cancel)

		authed.POST("/generate/cover-letter", generateHandler.CoverLetter)
		authed.POST("/generate/resume", generateHandler.Resume)
	}

	return r
}
