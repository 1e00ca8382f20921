package store

// Stores is the top-level container for the storage backends. Both fields
// are always non-nil; the backend is selected by StoreConfig.Backend.
type Stores struct {
	Sessions SessionStore
	Pairing  PairingStore
}

// StoreConfig selects and parameterizes the backend.
type StoreConfig struct {
	Backend        string // "sqlite" (default), "postgres", "file"
	SQLitePath     string
	PostgresDSN    string
	SessionStorage string // directory for the file backend
}
