package token

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultRetention bounds how long a blacklisted token without a readable
// exp claim is kept before the pruner may drop it.
const defaultRetention = 30 * 24 * time.Hour

// Blacklist tracks revoked tokens until they would have expired anyway.
// Tokens land here when a refresh rotates them out or a logout revokes
// them; membership is checked before any upstream verification.
type Blacklist struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
	parser *jwt.Parser
	now    func() time.Time
}

func NewBlacklist() *Blacklist {
	return &Blacklist{
		tokens: make(map[string]time.Time),
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

// Add revokes a token. Adding the same token twice is a no-op. The
// token's exp claim decides how long the entry is retained; signature
// validity is irrelevant here, a forged token on the blacklist is still
// just a rejected token.
func (b *Blacklist) Add(tokenString string) {
	if tokenString == "" {
		return
	}

	expiry := b.now().Add(defaultRetention)
	if claims := b.decodeClaims(tokenString); claims != nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiry = exp.Time
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.tokens[tokenString]; exists {
		return
	}
	b.tokens[tokenString] = expiry
}

// Contains reports whether a token has been revoked.
func (b *Blacklist) Contains(tokenString string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.tokens[tokenString]
	return exists
}

// PruneExpired drops entries whose underlying token has expired; an
// expired token fails upstream verification on its own, so the entry no
// longer buys anything. Returns the number of entries removed.
func (b *Blacklist) PruneExpired() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for tok, expiry := range b.tokens {
		if now.After(expiry) {
			delete(b.tokens, tok)
			removed++
		}
	}
	return removed
}

func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tokens)
}

// decodeClaims reads the exp claim without verifying the signature. The
// gateway holds no signing keys; expiry is only a retention hint.
func (b *Blacklist) decodeClaims(tokenString string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := b.parser.ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}
