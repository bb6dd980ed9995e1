package gorm

// Repository combines the article and cluster stores into the single
// storage the trending manager and embedding backfill consume.
type Repository struct {
	*ArticleStore
	*ClusterStore
}

// NewRepository creates a repository over store.
func NewRepository(store *Store) *Repository {
	return &Repository{
		ArticleStore: NewArticleStore(store),
		ClusterStore: NewClusterStore(store),
	}
}
