package security

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ParseAccessToken verifies an HMAC-signed bearer token issued by the authentication service and
// returns its subject.
func ParseAccessToken(tokenString string, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}
