package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Claims is the decoded output of the credential verifier. Extra holds
// every verified claim that is not one of the reserved fields.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Role          string
	Extra         map[string]any
}

// Profile is the denormalized secondary record an identity provider
// keeps alongside the token claims.
type Profile struct {
	Email         string
	EmailVerified bool
	DisplayName   string
}

var ErrProfileNotFound = errors.New("profile not found")

// Verifier is the external credential-verifier boundary. Implementations
// must reject expired, malformed and tampered tokens.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// ProfileFetcher looks up the secondary profile for a verified subject.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, subject string) (Profile, error)
}

// reserved claim names never land in Extra; registered JWT envelope
// claims are dropped entirely.
var reservedClaims = map[string]struct{}{
	"sub":            {},
	"email":          {},
	"email_verified": {},
	"role":           {},
}

var envelopeClaims = map[string]struct{}{
	"iss": {},
	"aud": {},
	"exp": {},
	"nbf": {},
	"iat": {},
	"jti": {},
}

// TokenVerifier verifies HS256 or RS256 bearer tokens issued by the
// configured identity provider.
type TokenVerifier struct {
	Mode     string // "hs256" or "rs256"
	Secret   string
	Issuer   string
	Audience string
	JWKS     *JWKSCache
	Now      func() time.Time
}

func (v *TokenVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *TokenVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	header, payload, sig, signed, err := splitToken(token)
	if err != nil {
		return Claims{}, err
	}
	var head struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(header, &head); err != nil {
		return Claims{}, err
	}
	switch strings.ToLower(strings.TrimSpace(v.Mode)) {
	case "hs256":
		if strings.ToUpper(head.Alg) != "HS256" {
			return Claims{}, errors.New("unsupported alg")
		}
		if v.Secret == "" {
			return Claims{}, errors.New("verifier secret is required")
		}
		mac := hmac.New(sha256.New, []byte(v.Secret))
		_, _ = mac.Write([]byte(signed))
		if !hmac.Equal(sig, mac.Sum(nil)) {
			return Claims{}, errors.New("signature mismatch")
		}
	case "rs256":
		if strings.ToUpper(head.Alg) != "RS256" {
			return Claims{}, errors.New("unsupported alg")
		}
		if strings.TrimSpace(head.Kid) == "" {
			return Claims{}, errors.New("kid required")
		}
		pub, err := v.JWKS.Key(ctx, head.Kid, v.now())
		if err != nil {
			return Claims{}, err
		}
		h := sha256.Sum256([]byte(signed))
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
			return Claims{}, err
		}
	default:
		return Claims{}, errors.New("unsupported verifier mode")
	}
	return decodeClaims(payload, v.now(), v.Issuer, v.Audience)
}

func splitToken(token string) (header, payload, sig []byte, signed string, err error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, nil, nil, "", errors.New("invalid token format")
	}
	if header, err = base64.RawURLEncoding.DecodeString(parts[0]); err != nil {
		return nil, nil, nil, "", err
	}
	if payload, err = base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return nil, nil, nil, "", err
	}
	if sig, err = base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, "", err
	}
	return header, payload, sig, parts[0] + "." + parts[1], nil
}

// decodeClaims validates the token envelope and merges custom claims.
// Reserved fields always win; the remaining claims land in Extra.
func decodeClaims(payload []byte, now time.Time, issuer, audience string) (Claims, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, err
	}
	var claims Claims
	var exp, nbf int64
	var iss string
	var aud any
	if v, ok := raw["sub"]; ok {
		_ = json.Unmarshal(v, &claims.Subject)
	}
	if v, ok := raw["email"]; ok {
		_ = json.Unmarshal(v, &claims.Email)
	}
	if v, ok := raw["email_verified"]; ok {
		_ = json.Unmarshal(v, &claims.EmailVerified)
	}
	if v, ok := raw["role"]; ok {
		_ = json.Unmarshal(v, &claims.Role)
	}
	if v, ok := raw["exp"]; ok {
		_ = json.Unmarshal(v, &exp)
	}
	if v, ok := raw["nbf"]; ok {
		_ = json.Unmarshal(v, &nbf)
	}
	if v, ok := raw["iss"]; ok {
		_ = json.Unmarshal(v, &iss)
	}
	if v, ok := raw["aud"]; ok {
		_ = json.Unmarshal(v, &aud)
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject required")
	}
	if exp == 0 || now.Unix() >= exp {
		return Claims{}, errors.New("token expired")
	}
	if nbf != 0 && now.Unix() < nbf {
		return Claims{}, errors.New("token not active")
	}
	if issuer != "" && iss != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if audience != "" && !audContains(aud, audience) {
		return Claims{}, errors.New("audience mismatch")
	}
	for key, value := range raw {
		if _, ok := reservedClaims[key]; ok {
			continue
		}
		if _, ok := envelopeClaims[key]; ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			continue
		}
		if claims.Extra == nil {
			claims.Extra = map[string]any{}
		}
		claims.Extra[key] = decoded
	}
	return claims, nil
}

func audContains(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}
