package identity

import (
	"fmt"
	"strings"

	"github.com/brizzai/loopback-login/internal/auth/constants"
	"github.com/brizzai/loopback-login/internal/auth/models"
)

// UsernameFromProfile derives the preferred username from the email local
// part, falling back to the display name and then to "user".
func UsernameFromProfile(p models.ProviderProfile) string {
	local, _, _ := strings.Cut(p.Email, "@")
	if name := sanitizeUsername(local); len(name) >= constants.MinUsernameLength {
		return name
	}
	if name := sanitizeUsername(p.DisplayName); len(name) >= constants.MinUsernameLength {
		return name
	}
	return "user"
}

// CandidateUsername returns base for attempt 1 and base_N after that
func CandidateUsername(base string, attempt int) string {
	if attempt <= 1 {
		return base
	}
	suffix := fmt.Sprintf("_%d", attempt)
	if len(base)+len(suffix) > constants.MaxUsernameLength {
		base = base[:constants.MaxUsernameLength-len(suffix)]
	}
	return base + suffix
}

func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.', r == '-', r == ' ', r == '+':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if len(name) > constants.MaxUsernameLength {
		name = name[:constants.MaxUsernameLength]
	}
	return name
}
