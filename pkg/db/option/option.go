// Package option provides composable gorm query modifiers.
package option

import (
	"strings"

	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption func(tx *gorm.DB) *gorm.DB

// ApplyPagination applies a cursor page token and over-fetches one row so the
// caller can detect whether another page exists. The cursor compares
// (created_at, id) descending, so the same ordering is applied here; callers
// must not override it with a conflicting sort.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		pageSize := p.PageSize
		if pageSize <= 0 {
			pageSize = 50
		}
		if token := strings.TrimSpace(p.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil {
				tx = tx.Where(
					"(created_at, id) < (?, ?)",
					cursor.CreatedAt,
					cursor.ID,
				)
			}
		}
		return tx.Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	}
}
