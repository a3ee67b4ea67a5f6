package auth

import "strings"

// Contains reports whether the held roles include the wanted role. RoleAdmin
// satisfies every check, so admin accounts pass all role gates.
func Contains(have []string, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return false
	}
	for _, role := range have {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == want || role == RoleAdmin {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the held roles include at least one of the wanted roles.
func ContainsAny(have []string, want ...string) bool {
	for _, role := range want {
		if Contains(have, role) {
			return true
		}
	}
	return false
}
