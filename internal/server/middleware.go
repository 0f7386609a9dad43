package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/trustledger/internal/observability/context"
	"github.com/smallbiznis/trustledger/internal/orgcontext"
)

const (
	HeaderOrg            = "X-Org-ID"
	HeaderActor          = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	contextOrgIDKey = "org_id"
)

// OrgContext resolves the tenant from X-Org-ID. The header stands in for the
// organization carried by an authenticated session.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID.Int64())
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = obscontext.WithActor(ctx, "user", actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextOrgIDKey, orgID.String())
		c.Next()
	}
}

func orgIDFromRequest(c *gin.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		return 0, ErrUnauthorized
	}
	return orgID, nil
}
