package service

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
)

// guardOwnership hides retainers of other organizations behind RetainerNotFound,
// so callers cannot discover ids they do not own.
func guardOwnership(r *domain.Retainer, orgID snowflake.ID) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if r == nil || r.OrgID != orgID {
		return domain.ErrRetainerNotFound
	}
	return nil
}
