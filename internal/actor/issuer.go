package actor

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gantry/pkg/domain"
)

// Issuer mints access tokens. Production deployments normally receive tokens
// from an external identity provider sharing the signing key; this covers
// development seeding and tests.
type Issuer struct {
	signingKey []byte
	issuer     string
}

func NewIssuer(signingKey, issuer string) *Issuer {
	return &Issuer{signingKey: []byte(signingKey), issuer: issuer}
}

// Token signs a credential for the given identity.
func (i *Issuer) Token(actorID domain.ActorID, tenantID domain.TenantID, permissions []string, system bool, expiresIn time.Duration) (string, error) {
	claims := Claims{
		Permissions: permissions,
		System:      system,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	}
	if !tenantID.IsNil() {
		claims.TenantID = tenantID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingKey)
}
