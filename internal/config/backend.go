package config

// ConfigBackend persists non-secret keys as raw text; values are parsed
// against the key table on load. macOS keeps them in the dashbot defaults
// domain, other platforms in an XDG JSON file.
type ConfigBackend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
