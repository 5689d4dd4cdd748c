package session

import (
	"crypto/rand"
	"encoding/base64"
)

// generateTempID produces a cryptographically random per-connection
// identifier for a Session before it authenticates (spec.md §3: "created
// on accept with a temp id"). Ported from the teacher's OTP generator
// (pkg/server/secret.go) — same 9-bytes-to-12-chars construction, repurposed
// from a document-protection passphrase to a session's pre-auth handle.
func generateTempID() string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
