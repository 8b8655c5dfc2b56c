package constants

// Route constants
const (
	APIRoute     = "/api"
	APIV1Route   = "/api/v1"
	OpsRoute     = "/ops"
	MetricsRoute = "/metrics"
	HealthRoute  = "/healthz"
	DocsRoute    = "/docs/api/"

	WebhookPath = "/payments/webhook"
)
