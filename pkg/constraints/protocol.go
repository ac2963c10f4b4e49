package constraints

// Status is the public vocabulary for import progress.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderAPIKey    = "X-CatalogSync-Key"
	HeaderTraceID   = "X-Trace-ID"
	SignaturePrefix = "sha256="
)

const DefaultUserAgent = "CatalogSync-Webhook/1.0"

// Bounds on per-subscription delivery settings.
const (
	WebhookMaxRetries        = 10
	WebhookMaxTimeoutSeconds = 300
)
