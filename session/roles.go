/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package session

import (
	crand "crypto/rand"
	"errors"
	"math/big"
	"math/rand/v2"
)

// DefaultCatalog is the list of character names a round draws from.
var DefaultCatalog = []string{
	"Naruto Uzumaki",
	"Monkey D. Luffy",
	"Goku",
	"Sailor Moon",
	"Spike Spiegel",
	"Mikasa Ackerman",
	"Light Yagami",
	"Inuyasha",
}

// Picker returns a uniformly distributed integer in [0, n).
type Picker interface {
	Pick(n int) int
}

type cryptoPicker struct{}

func (cryptoPicker) Pick(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return rand.IntN(n)
	}

	return int(v.Int64())
}

// Assignment is what one player learns at the start of a round.
type Assignment struct {
	Imposter bool
	Item     string
}

// Secret is the host's record of a round: who the imposter is and which
// item everyone else shares.
type Secret struct {
	ImposterID string
	Item       string
}

// For returns the view of the round that peerID is allowed to see.
func (s Secret) For(peerID string) Assignment {
	if peerID == s.ImposterID {
		return Assignment{Imposter: true}
	}

	return Assignment{Item: s.Item}
}

// Assigner picks the imposter and the shared item for each round.
type Assigner struct {
	catalog []string
	picker  Picker
}

// NewAssigner returns an Assigner drawing from catalog, or DefaultCatalog
// when catalog is empty. A nil picker uses crypto/rand.
func NewAssigner(catalog []string, picker Picker) *Assigner {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	if picker == nil {
		picker = cryptoPicker{}
	}

	return &Assigner{
		catalog: append([]string(nil), catalog...),
		picker:  picker,
	}
}

// Assign draws the imposter uniformly from players and the item uniformly
// from the catalog.
func (a *Assigner) Assign(players []Player) (Secret, error) {
	if len(players) == 0 {
		return Secret{}, errors.New("cannot assign roles to an empty roster")
	}

	return Secret{
		ImposterID: players[a.picker.Pick(len(players))].PeerID,
		Item:       a.catalog[a.picker.Pick(len(a.catalog))],
	}, nil
}
