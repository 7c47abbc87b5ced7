package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost for account passwords. The default is fine for login volume
// here; raise it independently of library defaults if needed.
const bcryptCost = bcrypt.DefaultCost

// HashPassword hashes an account password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(bytes), err
}

// CheckPassword compares a plain password against its stored bcrypt hash.
func CheckPassword(plain, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
