package resp

import "time"

type ProductResp struct {
	ID          uint64    `json:"id"`
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Active      bool      `json:"active"`
	Created     bool      `json:"created,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
