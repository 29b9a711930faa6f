package zap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidAmount  = errors.New("amount must be a positive decimal")
	ErrNotParty       = errors.New("not a party to this escrow")
)

const escrowVersion = "1.5"

var (
	walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// Escrow records an agreement whose funds are held by an external
// contract until the client or the arbiter releases them.
type Escrow struct {
	ID              string    `json:"irysTxId,omitempty"`
	Type            Kind      `json:"type"`
	Version         string    `json:"version,omitempty"`
	IsActive        bool      `json:"isActive"`
	IsLocked        bool      `json:"isLocked"`
	CreatedAt       time.Time `json:"createdAt"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	Client          string    `json:"client"`
	Freelancer      string    `json:"freelancer"`
	Arbiter         string    `json:"arbiter"`
	Amount          string    `json:"amount"`
	Description     string    `json:"description,omitempty"`
}

type EscrowInput struct {
	Freelancer      string `json:"freelancer"`
	Arbiter         string `json:"arbiter"`
	Amount          string `json:"amount"`
	Description     string `json:"description"`
	ContractAddress string `json:"contractAddress"`
}

// NewEscrow validates in and builds a locked agreement with client as the
// paying party.
func NewEscrow(client string, in EscrowInput, now time.Time) (Escrow, error) {
	addresses := make([]string, 0, 3)
	for _, raw := range []string{client, in.Freelancer, in.Arbiter} {
		address := strings.ToLower(strings.TrimSpace(raw))
		if !walletPattern.MatchString(address) {
			return Escrow{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		addresses = append(addresses, address)
	}
	contract := strings.ToLower(strings.TrimSpace(in.ContractAddress))
	if contract != "" && !walletPattern.MatchString(contract) {
		return Escrow{}, fmt.Errorf("%w: contract %q", ErrInvalidAddress, in.ContractAddress)
	}
	amount, err := normalizeAmount(in.Amount)
	if err != nil {
		return Escrow{}, err
	}
	return Escrow{
		Type:            KindEscrow,
		Version:         escrowVersion,
		IsActive:        true,
		IsLocked:        true,
		CreatedAt:       now.UTC(),
		ContractAddress: contract,
		Client:          addresses[0],
		Freelancer:      addresses[1],
		Arbiter:         addresses[2],
		Amount:          amount,
		Description:     strings.TrimSpace(in.Description),
	}, nil
}

// CanRelease reports whether address may release the held funds.
func (e Escrow) CanRelease(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	return address != "" && (address == e.Client || address == e.Arbiter)
}

// Involves reports whether address is any party to the agreement.
func (e Escrow) Involves(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	return e.CanRelease(address) || address == e.Freelancer
}

func DecodeEscrow(data []byte) (Escrow, error) {
	e := Escrow{IsActive: true}
	if err := json.Unmarshal(data, &e); err != nil {
		return Escrow{}, fmt.Errorf("decode escrow: %w", err)
	}
	if e.Type != KindEscrow {
		return Escrow{}, fmt.Errorf("decode escrow: unexpected type %q", e.Type)
	}
	e.Client = strings.ToLower(e.Client)
	e.Freelancer = strings.ToLower(e.Freelancer)
	e.Arbiter = strings.ToLower(e.Arbiter)
	return e, nil
}

func normalizeAmount(raw string) (string, error) {
	amount := strings.TrimSpace(raw)
	if !amountPattern.MatchString(amount) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return amount, nil
}
