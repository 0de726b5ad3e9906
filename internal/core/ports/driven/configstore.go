package driven

// ConfigStore is the persisted key/value configuration behind the
// settings service. Keys are dotted, e.g. "index.mode". The typed getters
// return the zero value for a missing key or a value of another type.
type ConfigStore interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	// GetFloat widens integer values.
	GetFloat(key string) float64
	GetBool(key string) bool

	// Set writes through to storage; a failed write leaves the previous
	// value in place.
	Set(key string, value any) error

	Save() error
	Load() error

	// Path names the backing file.
	Path() string
}
