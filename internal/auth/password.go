package auth

import (
	"errors"
	"fmt"

	"github.com/nbutton23/zxcvbn-go"
)

// MinPasswordScore is the lowest acceptable zxcvbn score (0-4).
const MinPasswordScore = 3

var ErrWeakPassword = errors.New("password too weak")

// CheckPassword rejects passwords that are too short or too guessable.
// userInputs should carry the user's own details (email, name) so that
// passwords built from them score poorly.
func CheckPassword(password string, userInputs []string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: must be at least 8 characters", ErrWeakPassword)
	}
	if score := PasswordStrength(password, userInputs); score < MinPasswordScore {
		return fmt.Errorf("%w: score %d of 4", ErrWeakPassword, score)
	}
	return nil
}

// PasswordStrength returns the zxcvbn score for a candidate password,
// for the interactive strength meter on the signup form.
func PasswordStrength(password string, userInputs []string) int {
	return zxcvbn.PasswordStrength(password, userInputs).Score
}
