package constants

const (
	// ProviderGoogle is the only provider the server is wired for
	ProviderGoogle = "google"

	// DefaultCallbackPort must match the redirect URI registered with the provider
	DefaultCallbackPort = 9876

	// DefaultCallbackPath is the loopback path the provider redirects to
	DefaultCallbackPath = "/callback"

	// StateBytes is the amount of randomness in a state token (256 bits)
	StateBytes = 32

	// TokenType for Bearer authentication
	TokenType = "Bearer"

	// AuthHeaderName is the name of the Authorization header
	AuthHeaderName = "Authorization"

	// AuthHeaderPrefix is the prefix for the Authorization header value
	AuthHeaderPrefix = "Bearer "

	// MinUsernameLength and MaxUsernameLength bound the username-only login
	MinUsernameLength = 2
	MaxUsernameLength = 50
)

// Google endpoints
const (
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// DefaultScopes requested from the provider
var DefaultScopes = []string{"openid", "email", "profile"}

// Extra authorization parameters so a refresh token is issued even on repeat
// logins.
var OfflineConsentParams = map[string]string{
	"access_type": "offline",
	"prompt":      "consent",
}
