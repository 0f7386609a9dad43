package rls

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WithTenant scopes row level security policies to orgID for the rest of tx.
// Only Postgres enforces policies; other dialects are left untouched.
func WithTenant(tx *gorm.DB, orgID snowflake.ID) error {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_org_id', ?, true)",
		strconv.FormatInt(orgID.Int64(), 10),
	).Error
}
