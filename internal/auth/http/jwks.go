package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// JWKSHandler exposes the public keys that can still verify tokens.
// Symmetric keys never appear.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify tokens, including retired keys still inside their grace period.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	jwtx.JWKS	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get]
func JWKSHandler(ring *jwtx.KeyRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ring == nil {
			httpx.WriteJSON(w, http.StatusOK, jwtx.JWKS{Keys: []jwtx.JWK{}})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, ring.PublicJWKS())
	}
}
