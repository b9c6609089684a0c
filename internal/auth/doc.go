// Package auth provides identity resolution for connections and requests.
//
// Two credential schemes exist side by side: devices present a per-device
// shared secret, users present a signed JWT. The ConnectionValidator tries
// them in that order with no fallthrough — a presented device key that
// matches nothing is a rejection, not an invitation to try the JWT path.
// Passwords are hashed with Argon2id in PHC string format.
package auth
