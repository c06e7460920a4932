package utils

import (
	"strconv"

	"conversation-service/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id  string
	Exp int64
}

// CheckAndExtractTokenMetadata validates a token minted by the auth service
// and returns the identity claims it carries.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Config(key)), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := t.Claims.(jwt.MapClaims); ok && t.Valid {
		return &TokenMetadata{
			Id:  claims["id"].(string),
			Exp: int64(claims["exp"].(float64)),
		}, nil
	}

	return nil, err
}

// UserID parses the numeric identity carried in the token metadata.
func (m *TokenMetadata) UserID() uint {
	id, _ := strconv.ParseUint(m.Id, 10, 64)
	return uint(id)
}
