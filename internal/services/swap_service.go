// internal/services/swap_service.go
package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/payper-backend/internal/config"
)

// Swapper buys the payment token with native currency.
type Swapper interface {
	Buy(ctx context.Context, amountNative decimal.Decimal) (string, error)
}

// TransactionSender submits signed transactions.
type TransactionSender interface {
	SendTransaction(ctx context.Context, wire []byte) (string, error)
}

// SwapService builds buys through PumpPortal's trade-local API and signs them locally.
type SwapService struct {
	endpoint    string
	mint        string
	slippage    float64
	priorityFee float64
	pool        string
	publicKey   string
	privateKey  ed25519.PrivateKey
	sender      TransactionSender
	httpClient  *http.Client
}

func NewSwapService(cfg config.BuybackConfig, tokenMint string, sender TransactionSender, httpClient *http.Client) (*SwapService, error) {
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	s := &SwapService{
		endpoint:    cfg.PumpPortalURL,
		mint:        tokenMint,
		slippage:    cfg.SlippagePercent,
		priorityFee: cfg.PriorityFeeSOL,
		pool:        cfg.Pool,
		publicKey:   cfg.WalletPublicKey,
		sender:      sender,
		httpClient:  httpClient,
	}
	if cfg.WalletPrivateKey == "" {
		return s, nil
	}

	key, err := base58.Decode(cfg.WalletPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode buyback wallet key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("buyback wallet key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	s.privateKey = ed25519.PrivateKey(key)

	derived := base58.Encode(s.privateKey.Public().(ed25519.PublicKey))
	if s.publicKey == "" {
		s.publicKey = derived
	} else if s.publicKey != derived {
		return nil, fmt.Errorf("buyback wallet public key does not match private key")
	}
	return s, nil
}

func (s *SwapService) Configured() bool {
	return s.privateKey != nil && s.mint != "" && s.sender != nil
}

type tradeLocalRequest struct {
	PublicKey        string  `json:"publicKey"`
	Action           string  `json:"action"`
	Mint             string  `json:"mint"`
	Amount           float64 `json:"amount"`
	DenominatedInSol string  `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool"`
}

// Buy spends amountNative SOL on the payment token and returns the transaction signature.
func (s *SwapService) Buy(ctx context.Context, amountNative decimal.Decimal) (string, error) {
	if !s.Configured() {
		return "", ErrBuybackNotConfigured
	}
	if !amountNative.IsPositive() {
		return "", fmt.Errorf("%w: non-positive amount %s", ErrBuybackFailed, amountNative.String())
	}

	amount, _ := amountNative.Float64()
	unsigned, err := s.requestTransaction(ctx, tradeLocalRequest{
		PublicKey:        s.publicKey,
		Action:           "buy",
		Mint:             s.mint,
		Amount:           amount,
		DenominatedInSol: "true",
		Slippage:         s.slippage,
		PriorityFee:      s.priorityFee,
		Pool:             s.pool,
	})
	if err != nil {
		return "", err
	}

	signed, err := signTransaction(unsigned, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuybackFailed, err)
	}

	signature, err := s.sender.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuybackFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"amount_sol": amountNative.String(),
		"signature":  signature,
	}).Info("Buyback transaction submitted")
	return signature, nil
}

func (s *SwapService) requestTransaction(ctx context.Context, body tradeLocalRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build trade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: trade request: %v", ErrBuybackFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read trade response: %v", ErrBuybackFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: trade request returned %d: %s", ErrBuybackFailed, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

var errMalformedTransaction = errors.New("malformed transaction")

// signTransaction fills the fee payer's signature slot of a serialized transaction.
// Layout: compact-u16 signature count, 64-byte signatures, then the message, whose
// first static account key is the fee payer.
func signTransaction(wire []byte, key ed25519.PrivateKey) ([]byte, error) {
	sigCount, n, err := decodeCompactU16(wire)
	if err != nil {
		return nil, err
	}
	if sigCount < 1 {
		return nil, fmt.Errorf("%w: no signature slots", errMalformedTransaction)
	}
	msgStart := n + sigCount*ed25519.SignatureSize
	if len(wire) <= msgStart {
		return nil, fmt.Errorf("%w: truncated", errMalformedTransaction)
	}
	message := wire[msgStart:]

	payer, err := feePayer(message)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(payer, key.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("%w: fee payer is not the buyback wallet", errMalformedTransaction)
	}

	signed := make([]byte, len(wire))
	copy(signed, wire)
	copy(signed[n:n+ed25519.SignatureSize], ed25519.Sign(key, message))
	return signed, nil
}

func feePayer(message []byte) ([]byte, error) {
	offset := 0
	if len(message) > 0 && message[0]&0x80 != 0 {
		offset = 1 // versioned message prefix
	}
	offset += 3 // header
	if len(message) <= offset {
		return nil, fmt.Errorf("%w: truncated message", errMalformedTransaction)
	}
	keyCount, n, err := decodeCompactU16(message[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	if keyCount < 1 || len(message) < offset+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: missing account keys", errMalformedTransaction)
	}
	return message[offset : offset+ed25519.PublicKeySize], nil
}

func decodeCompactU16(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated length", errMalformedTransaction)
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: length overflow", errMalformedTransaction)
}
