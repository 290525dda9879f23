package dtos

type GenerateRequest struct {
	JobID       string `json:"jobId"`
	Title       string `json:"title" binding:"required"`
	Company     string `json:"company"`
	Description string `json:"description" binding:"required"`
	Resume      string `json:"resume" binding:"required"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}
