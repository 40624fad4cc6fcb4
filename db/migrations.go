package db

import (
	"fmt"

	"gorm.io/gorm"
)

var indexes = []struct {
	name string
	sql  string
}{
	// At most one pending request per unordered pair, whichever side sent it.
	{
		name: "idx_friend_requests_pending_pair",
		sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_friend_requests_pending_pair
			ON friend_requests (pair_key) WHERE status = 'pending'`,
	},
	{
		name: "idx_friend_requests_to_user_status",
		sql: `CREATE INDEX IF NOT EXISTS idx_friend_requests_to_user_status
			ON friend_requests (to_user, status, id)`,
	},
}

// CreateIndexes adds the indexes AutoMigrate cannot express. Both postgres
// and sqlite accept partial indexes.
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range indexes {
		if err := db.Exec(idx.sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
