package config

// ConfigBackend persists config values by key. Lookup returns the stored
// value as text; the key table parses it, so backends know nothing about
// key types.
type ConfigBackend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Store(key string, value any) error
	Delete(key string) error
}
