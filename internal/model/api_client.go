package model

// APIClient is a machine caller allowed to submit imports with an API key.
type APIClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;uniqueIndex"`
	Status int    `gorm:"default:1"`
}
