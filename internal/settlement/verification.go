package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerificationURL derives the winner verification link for an auction.
// The token is an HMAC over the auction and winner ids, so the link is
// fully determined by its inputs and can be recomputed server-side.
func VerificationURL(baseURL, secret, auctionID, winnerID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s", auctionID, winnerID)
	token := hex.EncodeToString(mac.Sum(nil))

	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/bids/%s/verify/%s?token=%s", base, auctionID, winnerID, token)
}

// VerifyToken reports whether token matches the one VerificationURL
// would embed for the same auction and winner.
func VerifyToken(secret, auctionID, winnerID, token string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s", auctionID, winnerID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(token))
}
