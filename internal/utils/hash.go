package utils

import "golang.org/x/crypto/bcrypt"

// passwordCost pins the bcrypt work factor so a library default bump cannot
// silently change login latency.
const passwordCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of the plaintext password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(bytes), err
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
