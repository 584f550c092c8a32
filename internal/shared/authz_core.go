package shared

// Integration permissions.
const (
	PermIntegrationManage = "integration.manage"
	PermPostingView       = "posting.view"
	PermPostingRetry      = "posting.retry"
)

// IntegrationScopes lists all permissions related to accounting integrations.
func IntegrationScopes() []string {
	return []string{
		PermIntegrationManage,
		PermPostingView,
		PermPostingRetry,
	}
}
