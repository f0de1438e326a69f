package model

// TokenPair is the access/refresh pair issued by the upstream identity
// backend. Both are opaque to the gateway; the refresh token rotates on
// every use.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Claims is the identity payload the upstream verify endpoint returns for
// a valid access token.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}
