package req

type CreateWebhookReq struct {
	URL     string            `json:"url" binding:"required"`
	Events  []string          `json:"events" binding:"required,min=1"`
	Secret  *string           `json:"secret"`
	Headers map[string]string `json:"headers"`
	Active  *bool             `json:"active"`
	// Description is free text for operators.
	Description string `json:"description"`
	// RetryCount and Timeout fall back to 3 retries and 30 seconds.
	RetryCount *int `json:"retry_count"`
	Timeout    *int `json:"timeout"`
}

type TestWebhookReq struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type PageReq struct {
	Page int `form:"page,default=1" binding:"min=1"`
	Size int `form:"size,default=20" binding:"min=1,max=100"`
}
