package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conectazap/internal/domain"
)

// Token errors
var (
	ErrInvalidToken     = errors.New("identity: invalid token")
	ErrExpiredToken     = errors.New("identity: token expired")
	ErrMissingClaim     = errors.New("identity: missing required claim")
	ErrEmailNotVerified = errors.New("identity: email not verified")
)

// Verifier validates a session token issued by the identity provider and
// mirrors the account into a read-only domain.User.
type Verifier interface {
	Verify(tokenString string) (domain.User, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given shared secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the session user. The caller is
// responsible for the verified-email gate; the flag is mirrored as-is.
func (v *JWTVerifier) Verify(tokenString string) (domain.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.User{}, ErrExpiredToken
		}
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.User{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	user := domain.User{
		ID:     sub,
		Role:   domain.RoleAgent,
		Status: "online",
	}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if picture, ok := claims["picture"].(string); ok {
		user.AvatarURL = picture
	}
	if company, ok := claims["company"].(string); ok {
		user.Company = company
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		user.Role = domain.Role(role)
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		user.EmailVerified = verified
	}
	return user, nil
}

// RequireVerified enforces the chat-access rule: a signed-in account with an
// unverified email is treated as signed out.
func RequireVerified(user domain.User) error {
	if !user.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}

// Generate creates a session token for the given user with expiration.
// Exists for tests and local development sign-in.
func (v *JWTVerifier) Generate(user domain.User, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"picture":        user.AvatarURL,
		"company":        user.Company,
		"role":           string(user.Role),
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
