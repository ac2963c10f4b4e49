package resp

type ClientInfo struct {
	ID    string `json:"id"`
	AppID string `json:"app_id"`
	Role  string `json:"role"`
}

type TokenResp struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"` // seconds
	Client       ClientInfo `json:"client"`
}
