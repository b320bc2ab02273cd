package repository

import (
	"strings"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// NotDeleted restricts a query to rows of table whose soft-delete flag is unset.
// Every read of conversations and messages goes through it.
func NotDeleted(table string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(table+".is_deleted = ?", false)
	}
}

// InThread keeps live messages and deleted-for-everyone tombstones, which
// hold their place in the history with their content cleared.
func InThread() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(messages.is_deleted = ? OR messages.deleted_for_everyone = ?)", false, true)
	}
}

// VisibleTo hides messages the user removed from their own view.
func VisibleTo(userID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"NOT EXISTS (SELECT 1 FROM message_visibility_exceptions mv WHERE mv.message_id = messages.id AND mv.user_id = ?)",
			userID,
		)
	}
}

// Paginate applies a 1-based page window with a bounded page size.
func Paginate(page, pageSize int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		page, pageSize = NormalizePage(page, pageSize)
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}

// NormalizePage clamps paging input to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a case-insensitive LIKE pattern for a literal substring.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}
