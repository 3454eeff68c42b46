package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims issued by
// the Crapchat server. Beyond the standard claims it carries only the opaque
// database user id; everything else about the user is looked up in the store.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer) used for token validity checks.
	jwt.StandardClaims

	// UserID is the authenticated user's database identifier. A connection's
	// identity is fixed to this id for its whole lifetime.
	UserID int64 `json:"userid"`
}
