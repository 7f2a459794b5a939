package inmem

// Store groups the in-memory repositories.
type Store struct {
	DeploymentRepo *DeploymentRepository
}

// NewStore creates a new in-memory store with all repositories.
func NewStore() *Store {
	return &Store{DeploymentRepo: NewDeploymentRepository()}
}
