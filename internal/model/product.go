package model

import "time"

// Product is a catalog entry. IdentifierKey holds the case-folded identifier
// and carries the uniqueness constraint; Identifier keeps the casing it was
// first written with.
type Product struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Identifier    string    `gorm:"size:100;not null" json:"identifier"`
	IdentifierKey string    `gorm:"size:255;not null;uniqueIndex" json:"-"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Description   *string   `gorm:"type:text" json:"description"`
	Active        bool      `gorm:"not null" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
