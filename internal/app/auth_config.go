package app

import (
	iauth "github.com/charlesng35/kbguard/internal/auth"
)

// JWTConfig returns the token service configuration.
func (c AuthConfig) JWTConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		Audience:       c.JWT.Audience,
		AccessTokenTTL: c.JWT.TTL,
	}
}
