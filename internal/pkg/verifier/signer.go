package verifier

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/vreid/shobu/internal/pkg/wager"
)

// The wire format below must be reproduced bit-for-bit by anything producing
// signed claims: fields sorted lexicographically by key, rendered as
// "key:value", joined with "|", hashed with SHA-256, signed with Ed25519.
const payloadSeparator = "|"

var ErrNoGameData = errors.New("claim carries no game data")

// CanonicalGameData renders a game payload deterministically, fields sorted
// by key, "key=value" pairs joined with ",".
func CanonicalGameData(data wager.GameData) (string, error) {
	switch {
	case data.CoinFlip != nil:
		d := data.CoinFlip

		return fmt.Sprintf("player1_choice=%s,player2_choice=%s,result=%s",
			d.Player1Choice, d.Player2Choice, d.Result), nil
	case data.RockPaperScissors != nil:
		d := data.RockPaperScissors

		return fmt.Sprintf("player1_choice=%s,player2_choice=%s",
			d.Player1Choice, d.Player2Choice), nil
	case data.DiceRoll != nil:
		d := data.DiceRoll

		return fmt.Sprintf("player1_roll=%d,player2_roll=%d",
			d.Player1Roll, d.Player2Roll), nil
	default:
		return "", ErrNoGameData
	}
}

// CanonicalPayload serializes everything a signature covers. Key order is the
// lexicographic order of the wire keys.
func CanonicalPayload(claim *Claim) (string, error) {
	gameData, err := CanonicalGameData(claim.GameData)
	if err != nil {
		return "", err
	}

	pairs := []string{
		"gameData:" + gameData,
		"gameType:" + string(claim.GameType),
		"matchId:" + claim.MatchID,
		"player1Id:" + claim.Player1ID,
		"player2Id:" + claim.Player2ID,
		fmt.Sprintf("timestamp:%d", claim.Timestamp),
		"winnerId:" + claim.WinnerID,
	}

	return strings.Join(pairs, payloadSeparator), nil
}

// ClaimDigest hashes the canonical payload; the digest is what gets signed.
func ClaimDigest(claim *Claim) ([]byte, error) {
	payload, err := CanonicalPayload(claim)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256([]byte(payload))

	return digest[:], nil
}

// Signer produces interoperable signed claims. Only the trusted verification
// authority holds the private half; the service itself only ever verifies.
type Signer struct {
	private ed25519.PrivateKey
}

func NewSigner(private ed25519.PrivateKey) *Signer {
	return &Signer{private: private}
}

func (s *Signer) Public() ed25519.PublicKey {
	public, _ := s.private.Public().(ed25519.PublicKey)

	return public
}

// Sign computes the claim digest and returns the hex-encoded signature.
func (s *Signer) Sign(claim *Claim) (string, error) {
	digest, err := ClaimDigest(claim)
	if err != nil {
		return "", fmt.Errorf("failed to digest claim: %w", err)
	}

	return fmt.Sprintf("%x", ed25519.Sign(s.private, digest)), nil
}
