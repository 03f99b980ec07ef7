package migrations

import (
	"gorm.io/gorm"
)

// AddCatalogLegIndex ensures the leg-matching composite index covers
// (exchange, pair, side). An earlier schema keyed this index on the pair
// column twice, which left side lookups unindexed; this replaces it.
func AddCatalogLegIndex(db *gorm.DB) error {
	if err := db.Exec("DROP INDEX IF EXISTS idx_orders_exchange_pairs_pair").Error; err != nil {
		return err
	}

	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_orders_exchange_pair_side ON orders(exchange, pair, side)",
	).Error
}
