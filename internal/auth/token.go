package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Device tokens are short-lived: the gateway signs one per outbound
// call, so a leaked token is only useful for minutes.
const deviceTokenExpiry = 5 * time.Minute

// DeviceClaims are the claims carried by a relay request token.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the HS256 bearer tokens shared
// between the app's escalation gateway and the relay.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a token service from the shared relay secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// SignDeviceToken creates a short-lived token identifying the device.
func (s *TokenService) SignDeviceToken(deviceID string) (string, error) {
	now := time.Now()
	claims := &DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(deviceTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}
	return tokenString, nil
}

// VerifyDeviceToken verifies and parses a device token.
func (s *TokenService) VerifyDeviceToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse device token: %w", err)
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid device token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("device token missing device_id")
	}
	return claims, nil
}
