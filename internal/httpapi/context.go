package httpapi

import (
	"context"

	"github.com/coderunner/controlplane/internal/authn"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id authn.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) authn.Identity {
	id, _ := ctx.Value(identityKey{}).(authn.Identity)
	return id
}
