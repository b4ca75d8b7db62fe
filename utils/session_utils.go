package utils

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"time"
)

// GenerateSessionID mints an opaque, URL-safe session token.
func GenerateSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Printf("ERROR: Failed to generate random bytes for session ID: %v", err)
		return "fallback_session_id_" + time.Now().Format("20060102150405")
	}
	// Encode to Base64 to make it a URL-safe string
	return base64.URLEncoding.EncodeToString(b)
}
