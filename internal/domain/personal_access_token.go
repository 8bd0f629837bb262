package domain

import (
	"strings"
	"time"
)

type PersonalAccessToken struct {
	ID        int64
	TokenHash string
	UserID    int64
	Abilities string
	ExpiresAt *time.Time
}

// Can reports whether the token carries the given ability. A stored "*"
// grants everything.
func (t *PersonalAccessToken) Can(ability string) bool {
	for _, a := range strings.Split(t.Abilities, ",") {
		a = strings.TrimSpace(strings.Trim(a, `[]" `))
		if a == "*" || a == ability {
			return true
		}
	}
	return false
}
