package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/payper-backend/internal/models"
)

const (
	collectionWallet = "Co11ectionWa11et111111111111111111111111111"
	collectionATA    = "Co11ectionATA11111111111111111111111111111111"
	payerWallet      = "PayerWa11et111111111111111111111111111111111"
	payerATA         = "PayerATA1111111111111111111111111111111111111"
	otherATA         = "0therATA1111111111111111111111111111111111111"
	otherMint        = "0therMint111111111111111111111111111111111111"
)

type fakeLedger struct {
	tx    *ParsedTransaction
	err   error
	calls int
}

func (f *fakeLedger) GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	f.calls++
	return f.tx, f.err
}

// parsedTx decodes a jsonParsed getTransaction result with the given instructions.
func parsedTx(t *testing.T, metaErr string, instructions, inner string) *ParsedTransaction {
	t.Helper()
	raw := fmt.Sprintf(`{
		"slot": 250000000,
		"blockTime": 1760000000,
		"meta": {
			"err": %s,
			"preTokenBalances": [
				{"accountIndex": 1, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "1000000000", "decimals": 6}},
				{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "0", "decimals": 6}}
			],
			"postTokenBalances": [
				{"accountIndex": 1, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "534000000", "decimals": 6}},
				{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "466000000", "decimals": 6}},
				{"accountIndex": 3, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "5", "decimals": 6}}
			],
			"innerInstructions": [%s]
		},
		"transaction": {
			"signatures": ["sig"],
			"message": {
				"accountKeys": [
					{"pubkey": %q, "signer": true, "writable": true},
					{"pubkey": %q, "signer": false, "writable": true},
					{"pubkey": %q, "signer": false, "writable": true},
					{"pubkey": %q, "signer": false, "writable": true}
				],
				"instructions": [%s]
			}
		}
	}`,
		metaErr,
		testMint, payerWallet, testMint, collectionWallet,
		testMint, payerWallet, testMint, collectionWallet, otherMint, collectionWallet,
		inner,
		payerWallet, payerATA, collectionATA, otherATA,
		instructions,
	)

	var tx ParsedTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	return &tx
}

func transferIx(program, dest string, amount string) string {
	return fmt.Sprintf(`{"program": %q, "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"parsed": {"type": "transfer", "info": {"source": %q, "destination": %q, "authority": %q, "amount": %q}}}`,
		program, payerATA, dest, payerWallet, amount)
}

func transferCheckedIx(dest, mint, amount string) string {
	return fmt.Sprintf(`{"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		"parsed": {"type": "transferChecked", "info": {"source": %q, "destination": %q, "authority": %q, "mint": %q,
		"tokenAmount": {"amount": %q, "decimals": 6, "uiAmount": 466.0, "uiAmountString": "466"}}}}`,
		payerATA, dest, payerWallet, mint, amount)
}

const computeBudgetIx = `{"programId": "ComputeBudget111111111111111111111111111111", "accounts": [], "data": "3DdGGhkhJbjm"}`

func TestSettlementVerifier(t *testing.T) {
	const expected = int64(466000000)

	tests := []struct {
		name     string
		tx       func(t *testing.T) *ParsedTransaction
		outcome  models.SettlementOutcome
		observed int64
	}{
		{
			name:     "transferChecked covers the charge",
			tx:       func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferCheckedIx(collectionATA, testMint, "466000000"), "") },
			outcome:  models.SettlementOutcomeVerified,
			observed: 466000000,
		},
		{
			name: "plain transfer with overpayment",
			tx: func(t *testing.T) *ParsedTransaction {
				return parsedTx(t, "null", computeBudgetIx+","+transferIx("spl-token", collectionATA, "500000000"), "")
			},
			outcome:  models.SettlementOutcomeVerified,
			observed: 500000000,
		},
		{
			name: "split across top level and inner instructions",
			tx: func(t *testing.T) *ParsedTransaction {
				return parsedTx(t, "null",
					transferCheckedIx(collectionATA, testMint, "300000000"),
					`{"index": 0, "instructions": [`+transferIx("spl-token-2022", collectionATA, "166000000")+`]}`)
			},
			outcome:  models.SettlementOutcomeVerified,
			observed: 466000000,
		},
		{
			name:     "underpaid",
			tx:       func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferCheckedIx(collectionATA, testMint, "465999999"), "") },
			outcome:  models.SettlementOutcomeMismatched,
			observed: 465999999,
		},
		{
			name:    "successful transaction without any transfer",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", computeBudgetIx, "") },
			outcome: models.SettlementOutcomeMismatched,
		},
		{
			name:    "transfer to an account of another owner",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferIx("spl-token", payerATA, "466000000"), "") },
			outcome: models.SettlementOutcomeMismatched,
		},
		{
			name:    "transfer of another mint to the collection wallet",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferIx("spl-token", otherATA, "466000000"), "") },
			outcome: models.SettlementOutcomeMismatched,
		},
		{
			name:    "transferChecked naming another mint",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferCheckedIx(collectionATA, otherMint, "466000000"), "") },
			outcome: models.SettlementOutcomeMismatched,
		},
		{
			name:    "system program transfer is ignored",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, "null", transferIx("system", collectionATA, "466000000"), "") },
			outcome: models.SettlementOutcomeMismatched,
		},
		{
			name:    "failed on chain",
			tx:      func(t *testing.T) *ParsedTransaction { return parsedTx(t, `{"InstructionError":[0,"Custom"]}`, transferCheckedIx(collectionATA, testMint, "466000000"), "") },
			outcome: models.SettlementOutcomeFailed,
		},
		{
			name:    "not yet visible",
			tx:      func(t *testing.T) *ParsedTransaction { return nil },
			outcome: models.SettlementOutcomeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{tx: tt.tx(t)}
			verifier := NewSettlementVerifier(ledger, collectionWallet, testMint)

			v, err := verifier.Verify(context.Background(), "ref", expected)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, v.Outcome)
			assert.Equal(t, tt.observed, v.ObservedRaw)
			if tt.outcome != models.SettlementOutcomeVerified {
				assert.NotEmpty(t, v.Detail)
			}
		})
	}
}

func TestSettlementVerifierMissingMeta(t *testing.T) {
	tx := parsedTx(t, "null", transferCheckedIx(collectionATA, testMint, "466000000"), "")
	tx.Meta = nil

	verifier := NewSettlementVerifier(&fakeLedger{tx: tx}, collectionWallet, testMint)
	v, err := verifier.Verify(context.Background(), "ref", 1)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementOutcomeNotFound, v.Outcome)
}

func TestSettlementVerifierLedgerError(t *testing.T) {
	verifier := NewSettlementVerifier(&fakeLedger{err: errors.New("connection reset")}, collectionWallet, testMint)

	_, err := verifier.Verify(context.Background(), "ref", 1)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
}
