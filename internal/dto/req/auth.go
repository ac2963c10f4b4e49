package req

type TokenReq struct {
	APIKey string `json:"api_key" binding:"required"`
}

type RefreshReq struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
