package extract

import "strings"

// Interstitial signatures. Requiring two distinct hits keeps ordinary
// pages that merely link to a login form from counting as blocked.
var loginWallSignatures = []string{
	"log into facebook",
	"you must log in to continue",
	"log in to facebook",
	"log in or sign up",
	"create new account",
	"forgot password",
	"join facebook",
	"see more from",
	"login_form",
	"loginbutton",
}

// IsLoginWall reports whether a page body is a login-wall interstitial
// rather than real content.
func IsLoginWall(html string) bool {
	lower := strings.ToLower(html)
	hits := 0
	for _, sig := range loginWallSignatures {
		if strings.Contains(lower, sig) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}
