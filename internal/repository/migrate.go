package repository

import (
	"fmt"

	"catalogsync/internal/model"

	"gorm.io/gorm"
)

const keyCollation = "utf8mb4_bin"

// keyColumnDDL returns the statement that gives products.identifier_key a
// binary collation, or "" when the dialect already compares bytes.
// Keys are folded in Go; MySQL's default utf8mb4_0900_ai_ci would also
// fold accents and merge CAFE-1 with CAFÉ-1 under the unique index.
func keyColumnDDL(dialect string) string {
	if dialect != "mysql" {
		return ""
	}
	return "ALTER TABLE products MODIFY identifier_key VARCHAR(255) CHARACTER SET utf8mb4 COLLATE " + keyCollation + " NOT NULL"
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return err
	}
	ddl := keyColumnDDL(db.Dialector.Name())
	if ddl == "" {
		return nil
	}

	var current string
	if err := db.Raw(`SELECT COLLATION_NAME FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = 'products' AND COLUMN_NAME = 'identifier_key'`).
		Scan(&current).Error; err != nil {
		return fmt.Errorf("read identifier_key collation: %w", err)
	}
	if current == keyCollation {
		return nil
	}
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("set identifier_key collation: %w", err)
	}
	return nil
}
