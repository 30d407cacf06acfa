// Package option provides composable gorm query modifiers used by the
// generic repository.
package option

import (
	"time"

	"github.com/tubescribe/tubescribe/pkg/db/pagination"
	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination applies keyset pagination ordered by created_at descending.
// It fetches one extra row so the caller can detect another page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		pageSize := p.PageSize
		if pageSize <= 0 {
			pageSize = 10
		}

		if p.PageToken != "" {
			cursor, err := pagination.DecodeCursor(p.PageToken)
			if err == nil && cursor.CreatedAt != "" {
				if ts, perr := time.Parse(time.RFC3339, cursor.CreatedAt); perr == nil {
					db = db.Where("created_at < ?", ts)
				}
			}
		}

		return db.Order("created_at DESC").Limit(pageSize + 1)
	})
}

// WithLimit caps the number of returned rows.
func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	})
}

// WithOrder applies a raw ORDER BY clause. Callers must pass trusted values.
func WithOrder(order string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	})
}
