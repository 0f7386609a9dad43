package obscontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, " 01HZX ")
	ctx = WithOrgID(ctx, "42")
	ctx = WithActor(ctx, "user", "u-1")
	ctx = WithIPAddress(ctx, "")

	assert.Equal(t, "01HZX", RequestIDFromContext(ctx))
	assert.Equal(t, "42", OrgIDFromContext(ctx))
	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "user", actorType)
	assert.Equal(t, "u-1", actorID)
	assert.Empty(t, IPAddressFromContext(ctx))
	assert.Empty(t, UserAgentFromContext(nil))
}
