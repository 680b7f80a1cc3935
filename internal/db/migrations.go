// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateFreeAddressIndex creates the index used by the available-address
// listing: pool id + id, restricted to free rows where the dialect allows it.
func MigrateFreeAddressIndex(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		if db.Migrator().HasIndex("network_addresses", "ix_network_addresses_free") {
			return nil
		}
		// частичных индексов в MySQL нет — составной
		return db.Exec("CREATE INDEX `ix_network_addresses_free` ON `network_addresses` (`network_label_id`, `is_assigned`, `is_reserved`, `id`)").Error

	case "postgres":
		return db.Exec(`CREATE INDEX IF NOT EXISTS ix_network_addresses_free ON "network_addresses" ("network_label_id", "id") WHERE "is_assigned" = false AND "is_reserved" = false`).Error

	case "sqlite":
		return db.Exec(`CREATE INDEX IF NOT EXISTS ix_network_addresses_free ON network_addresses (network_label_id, id) WHERE is_assigned = 0 AND is_reserved = 0`).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
