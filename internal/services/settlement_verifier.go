// internal/services/settlement_verifier.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/models"
)

// LedgerReader fetches confirmed transactions by signature.
type LedgerReader interface {
	GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// Verification is the ledger's answer for one reference.
type Verification struct {
	Outcome     models.SettlementOutcome
	ObservedRaw int64
	Detail      string
}

// SettlementVerifier checks that a transaction moved enough of the payment mint into
// token accounts owned by the collection wallet.
type SettlementVerifier struct {
	ledger           LedgerReader
	collectionWallet string
	mint             string
}

func NewSettlementVerifier(ledger LedgerReader, collectionWallet, mint string) *SettlementVerifier {
	return &SettlementVerifier{
		ledger:           ledger,
		collectionWallet: collectionWallet,
		mint:             mint,
	}
}

var tokenPrograms = map[string]bool{
	"spl-token":      true,
	"spl-token-2022": true,
}

type parsedTokenInstruction struct {
	Type string `json:"type"`
	Info struct {
		Source      string          `json:"source"`
		Destination string          `json:"destination"`
		Mint        string          `json:"mint"`
		Amount      json.RawMessage `json:"amount"`
		TokenAmount *struct {
			Amount string `json:"amount"`
		} `json:"tokenAmount"`
	} `json:"info"`
}

type tokenAccount struct {
	mint  string
	owner string
}

// Verify never records anything; the caller owns persistence.
func (v *SettlementVerifier) Verify(ctx context.Context, reference string, expectedRaw int64) (Verification, error) {
	tx, err := v.ledger.GetTransaction(ctx, reference)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if tx == nil {
		return Verification{Outcome: models.SettlementOutcomeNotFound, Detail: "transaction not found"}, nil
	}
	if tx.Meta == nil {
		return Verification{Outcome: models.SettlementOutcomeNotFound, Detail: "transaction metadata not available"}, nil
	}
	if tx.Meta.Failed() {
		return Verification{
			Outcome: models.SettlementOutcomeFailed,
			Detail:  "transaction failed: " + string(tx.Meta.Err),
		}, nil
	}

	accounts := v.tokenAccounts(tx)
	instructions := append([]ParsedInstruction{}, tx.Transaction.Message.Instructions...)
	for _, inner := range tx.Meta.InnerInstructions {
		instructions = append(instructions, inner.Instructions...)
	}

	var observed int64
	var transfers int
	for _, ix := range instructions {
		amount, ok := v.qualifyingAmount(ix, accounts)
		if !ok {
			continue
		}
		transfers++
		if observed > math.MaxInt64-amount {
			observed = math.MaxInt64
		} else {
			observed += amount
		}
	}

	fields := logrus.Fields{
		"reference": reference,
		"expected":  expectedRaw,
		"observed":  observed,
		"transfers": transfers,
	}

	if transfers == 0 {
		logrus.WithFields(fields).Warn("Settlement has no transfer to the collection wallet")
		return Verification{
			Outcome: models.SettlementOutcomeMismatched,
			Detail:  "no transfer of the payment token to the collection wallet",
		}, nil
	}
	if observed < expectedRaw {
		logrus.WithFields(fields).Warn("Settlement underpaid")
		return Verification{
			Outcome:     models.SettlementOutcomeMismatched,
			ObservedRaw: observed,
			Detail:      fmt.Sprintf("transferred %d, expected at least %d", observed, expectedRaw),
		}, nil
	}

	logrus.WithFields(fields).Info("Settlement verified")
	return Verification{Outcome: models.SettlementOutcomeVerified, ObservedRaw: observed}, nil
}

// tokenAccounts maps token account addresses to mint and owner using the balance tables.
func (v *SettlementVerifier) tokenAccounts(tx *ParsedTransaction) map[string]tokenAccount {
	keys := tx.Transaction.Message.AccountKeys
	out := make(map[string]tokenAccount)
	for _, balances := range [][]TokenBalance{tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances} {
		for _, b := range balances {
			if b.AccountIndex < 0 || b.AccountIndex >= len(keys) || b.Owner == "" {
				continue
			}
			out[keys[b.AccountIndex].Pubkey] = tokenAccount{mint: b.Mint, owner: b.Owner}
		}
	}
	return out
}

func (v *SettlementVerifier) qualifyingAmount(ix ParsedInstruction, accounts map[string]tokenAccount) (int64, bool) {
	if !tokenPrograms[ix.Program] || len(ix.Parsed) == 0 || ix.Parsed[0] != '{' {
		return 0, false
	}

	var parsed parsedTokenInstruction
	if err := json.Unmarshal(ix.Parsed, &parsed); err != nil {
		return 0, false
	}

	var raw string
	switch parsed.Type {
	case "transfer":
		raw = rawNumber(parsed.Info.Amount)
	case "transferChecked":
		if parsed.Info.Mint != v.mint || parsed.Info.TokenAmount == nil {
			return 0, false
		}
		raw = parsed.Info.TokenAmount.Amount
	default:
		return 0, false
	}

	dest, ok := accounts[parsed.Info.Destination]
	if !ok || dest.owner != v.collectionWallet || dest.mint != v.mint {
		return 0, false
	}

	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

func rawNumber(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
