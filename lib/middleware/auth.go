// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jc "github.com/SermoDigital/jose/crypto"
	"github.com/SermoDigital/jose/jws"
)

// UserIDHeader carries the authenticated subject to downstream handlers.
const UserIDHeader = "X-User-Id"

const _minSecretLength = 32

// AuthConfig defines JWT authentication configuration. Tokens are verified
// with HS256 against a shared secret.
type AuthConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	Secret   string `yaml:"secret"`

	// PublicPaths are served without a token.
	PublicPaths []string `yaml:"public_paths"`
}

// JWTAuth returns a middleware which rejects requests lacking a valid
// bearer token. The token subject is projected into the UserIDHeader.
// Refuses weak secrets outright.
func JWTAuth(config AuthConfig) (func(http.Handler) http.Handler, error) {
	if len(config.Secret) < _minSecretLength {
		return nil, fmt.Errorf(
			"jwt secret must be at least %d bytes", _minSecretLength)
	}
	secret := []byte(config.Secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The identity header is only ever set from a verified token.
			// Whatever the client sent is dropped.
			r.Header.Del(UserIDHeader)
			for _, p := range config.PublicPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			sub, err := verifyToken(r, config, secret)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			// Clients cannot smuggle an identity past verification.
			r.Header.Set(UserIDHeader, sub)
			next.ServeHTTP(w, r)
		})
	}, nil
}

func verifyToken(r *http.Request, config AuthConfig, secret []byte) (sub string, err error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	token, err := jws.ParseJWT([]byte(strings.TrimPrefix(auth, "Bearer ")))
	if err != nil {
		return "", fmt.Errorf("parse jwt: %s", err)
	}
	// Validate checks the signature plus the exp / nbf claims.
	if err := token.Validate(secret, jc.SigningMethodHS256); err != nil {
		return "", fmt.Errorf("validate jwt: %s", err)
	}
	claims := token.Claims()
	if config.Issuer != "" {
		if iss, ok := claims.Issuer(); !ok || iss != config.Issuer {
			return "", errors.New("invalid issuer claim")
		}
	}
	if config.Audience != "" {
		if aud, ok := claims.Audience(); !ok || !containsAudience(aud, config.Audience) {
			return "", errors.New("invalid audience claim")
		}
	}
	sub, ok := claims.Subject()
	if !ok || sub == "" {
		return "", errors.New("missing subject claim")
	}
	return sub, nil
}

func containsAudience(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
