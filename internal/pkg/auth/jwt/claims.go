package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims of the identity token issued by the relay server at login.
type Payload struct {
	// StandardClaims embeds the standard fields such as Exp (Expiration),
	// Iat (Issued At), Iss (Issuer) and Sub (Subject, the username).
	jwt.StandardClaims `json:"standard_claims"`

	// Username is the identity the token holder may announce on the channel.
	Username string `json:"username"`
}
