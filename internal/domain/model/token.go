package model

import "time"

// tokenExpirySkew is subtracted from the expiry when checking validity so a
// token that is about to expire mid-run is refreshed up front.
const tokenExpirySkew = 2 * time.Minute

// SellsyToken is an OAuth2 access token obtained from the Sellsy login host
// via the client_credentials grant. RefreshToken is empty with that grant;
// it is kept for forward compatibility with the authorization_code flow.
type SellsyToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	ObtainedAt   time.Time
}

// Valid reports whether the token can still be used at the given instant,
// leaving a safety margin before the actual expiry.
func (t SellsyToken) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-tokenExpirySkew))
}
