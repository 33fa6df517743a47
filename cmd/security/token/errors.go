package token

import "errors"

// Key policy failures reported by ValidateHMACKey. Startup validation maps
// them to config errors with errors.Is.
var (
	ErrHMACKeyMissing  = errors.New("token: refresh hash key is required")
	ErrHMACKeyTooShort = errors.New("token: refresh hash key is shorter than the minimum")
)
