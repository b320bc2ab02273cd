package repository

import (
	"parley/internal/database"

	"gorm.io/gorm"
)

// readDB prefers the read replica for plain reads. Handles bound to a
// transaction always stay on the primary.
func readDB(primary *gorm.DB) *gorm.DB {
	if _, inTx := primary.Statement.ConnPool.(gorm.TxCommitter); inTx {
		return primary
	}
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}
