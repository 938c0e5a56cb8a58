package catalog

// Store is the tenant-scoped catalog repository: media, folders, file
// groups, tenants, and API keys. Every method takes the tenant ID
// explicitly rather than relying on ambient state, so handlers can't
// accidentally cross tenant boundaries by forgetting to scope a query.
type Store struct {
	pool *Pool
}

// NewStore builds a Store over an open pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}
