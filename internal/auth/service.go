package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// serviceTokenPayload is the JWT-like payload for internal service tokens.
// The account service validates the signature with the shared secret and
// checks that the acting user is allowed to read the trip's keys.
type serviceTokenPayload struct {
	Subject string `json:"sub"`
	ActsFor string `json:"acts_for,omitempty"`
	Exp     int64  `json:"exp"`
}

// SignServiceToken creates an HMAC-signed service token identifying this
// process to the account service, carrying the acting user id.
//
// Token format: base64(JSON payload) + "." + base64(HMAC-SHA256 signature).
func SignServiceToken(secret []byte, actingUserID string, ttl time.Duration) (string, error) {
	payload := serviceTokenPayload{
		Subject: "svc:orchestrator",
		ActsFor: actingUserID,
		Exp:     time.Now().Add(ttl).Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal service token payload: %w", err)
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	sigB64 := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return payloadB64 + "." + sigB64, nil
}
