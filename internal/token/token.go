// Package token defines the instrument-tokenization boundary: minting a new
// fractional-ownership unit pool for an artwork and mirroring unit transfers
// to the backing store (an on-chain contract in production). The ledger
// engine only consumes the resulting reference and is agnostic to how the
// tokens are actually backed.
package token

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRef  = errors.New("token: invalid instrument reference format")
	ErrInvalidSpec = errors.New("token: invalid mint spec")
)

// refRegex matches: FART-{artworkID}-{units}-{YYYYMMDD}
// Example: FART-a81bc3f0-100000-20260901
// The artwork group is non-greedy so hyphenated artwork ids never swallow
// the unit count.
var refRegex = regexp.MustCompile(
	`^FART-([0-9a-z-]+?)-([0-9]+)-(\d{8})$`,
)

// Ref identifies a minted instrument in the backing token store.
type Ref struct {
	Reference    string    `json:"reference"`
	ContractAddr string    `json:"contract_addr"`
	ArtworkID    string    `json:"artwork_id"`
	TotalUnits   int64     `json:"total_units"`
	MintedAt     time.Time `json:"minted_at"`
}

// MintSpec describes the unit pool to mint for one artwork.
type MintSpec struct {
	ArtworkID  string `json:"artwork_id"`
	ArtistID   string `json:"artist_id"`
	TotalUnits int64  `json:"total_units"`
}

// Receipt is the acknowledgement of a unit transfer in the backing store.
type Receipt struct {
	TxHash       string    `json:"tx_hash"`
	InstrumentID string    `json:"instrument_id"`
	To           string    `json:"to"`
	Quantity     int64     `json:"quantity"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// Service mints instrument unit pools and mirrors unit movements.
// Implementations may deploy on-chain contracts or keep any other backing
// store; the ledger engine never shells out or talks to a chain directly.
type Service interface {
	// Mint creates a new unit pool and returns its reference.
	Mint(ctx context.Context, spec MintSpec) (*Ref, error)

	// Transfer mirrors a unit movement to the backing store.
	Transfer(ctx context.Context, instrumentRef string, to string, quantity int64) (*Receipt, error)
}

// ParseRef parses and validates an instrument reference string.
// Format: FART-{artworkID}-{units}-{YYYYMMDD}
func ParseRef(ref string) (*Ref, error) {
	matches := refRegex.FindStringSubmatch(ref)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected FART-{artwork}-{units}-{YYYYMMDD})",
			ErrInvalidRef, ref)
	}

	var units int64
	if _, err := fmt.Sscanf(matches[2], "%d", &units); err != nil || units <= 0 {
		return nil, fmt.Errorf("%w: unit count %s", ErrInvalidRef, matches[2])
	}

	minted, err := time.Parse("20060102", matches[3])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidRef, matches[3])
	}

	return &Ref{
		Reference:  ref,
		ArtworkID:  matches[1],
		TotalUnits: units,
		MintedAt:   minted,
	}, nil
}

// StaticService is the in-process Service implementation used for
// development and testing: deterministic references, random contract
// addresses, no external calls.
type StaticService struct {
	now func() time.Time
}

// NewStaticService creates a StaticService.
func NewStaticService() *StaticService {
	return &StaticService{now: func() time.Time { return time.Now().UTC() }}
}

func (s *StaticService) Mint(_ context.Context, spec MintSpec) (*Ref, error) {
	if spec.ArtworkID == "" || spec.ArtistID == "" || spec.TotalUnits <= 0 {
		return nil, fmt.Errorf("%w: artwork=%q artist=%q units=%d",
			ErrInvalidSpec, spec.ArtworkID, spec.ArtistID, spec.TotalUnits)
	}

	minted := s.now()
	ref := fmt.Sprintf("FART-%s-%d-%s", spec.ArtworkID, spec.TotalUnits, minted.Format("20060102"))
	if _, err := ParseRef(ref); err != nil {
		return nil, err
	}

	return &Ref{
		Reference:    ref,
		ContractAddr: "0x" + uuid.NewString()[:8] + uuid.NewString()[:8],
		ArtworkID:    spec.ArtworkID,
		TotalUnits:   spec.TotalUnits,
		MintedAt:     minted,
	}, nil
}

func (s *StaticService) Transfer(_ context.Context, instrumentRef, to string, quantity int64) (*Receipt, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: transfer quantity %d", ErrInvalidSpec, quantity)
	}
	return &Receipt{
		TxHash:       "0x" + uuid.NewString(),
		InstrumentID: instrumentRef,
		To:           to,
		Quantity:     quantity,
		ConfirmedAt:  s.now(),
	}, nil
}
