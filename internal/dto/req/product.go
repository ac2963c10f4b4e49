package req

// ProductReq is the body of a single-product upsert. The identifier comes
// from the path. Active defaults to true when omitted.
type ProductReq struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}
