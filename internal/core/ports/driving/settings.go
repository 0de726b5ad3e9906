package driving

import "github.com/custodia-labs/detectsearch/internal/core/domain"

// SettingsService resolves settings from the config store and the
// DETECTSEARCH_* environment, and edits the stored values.
type SettingsService interface {
	Get() (*domain.Settings, error)

	// Set parses value for the dotted key and persists it. Unknown keys
	// and values that fail validation are rejected with ErrInvalidInput.
	Set(key, value string) error

	Validate() error

	// ConfigPath names the file Set writes to.
	ConfigPath() string
}
