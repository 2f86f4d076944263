package auth

import "crypto/subtle"

// StaticCredentials is the staff account seeded from the environment.
// The service carries no user store; a deployment serves one restaurant
// with one shared operator login.
type StaticCredentials struct {
	Username string
	Password string
	Role     string
}

// Check compares both fields in constant time.
func (s StaticCredentials) Check(username, password string) bool {
	if s.Username == "" || s.Password == "" {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(s.Username), []byte(username))
	p := subtle.ConstantTimeCompare([]byte(s.Password), []byte(password))
	return u == 1 && p == 1
}
