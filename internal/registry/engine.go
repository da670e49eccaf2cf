// Package registry registers account wallets on the on-chain identity
// registry: chain/endpoint resolution, fee discovery, transaction
// submission and per-chain result classification.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"walletbot/internal/account"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	registerGasLimit = 300_000
	receiptTimeout   = 3 * time.Minute
)

// Status classifies one chain's registration outcome.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusAlreadyRegistered Status = "already-registered"
	StatusFailed            Status = "failed"
	StatusDryRun            Status = "dry-run"
)

// Result is one chain's outcome. FeeWei is the observed registration fee
// as a decimal string.
type Result struct {
	ChainID uint64
	Chain   string
	Status  Status
	FeeWei  string
	TxHash  string
	Err     string
}

// Report is the aggregate outcome of one registration invocation.
type Report struct {
	AccountID      string
	Address        string
	TokenURI       string
	TokenURISource TokenURISource
	Results        []Result
}

// Summary renders the one-line outcome count.
func (r Report) Summary() string {
	var registered, already, dry, failed int
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			registered++
		case StatusAlreadyRegistered:
			already++
		case StatusDryRun:
			dry++
		case StatusFailed:
			failed++
		}
	}
	return fmt.Sprintf("%d registered, %d already registered, %d dry-run, %d failed",
		registered, already, dry, failed)
}

// Backend is the subset of an RPC client the engine needs. *ethclient.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Engine performs (or simulates) on-chain registration. RPC connections are
// short-lived: one dial per chain per invocation.
type Engine struct {
	dial        func(ctx context.Context, url string) (Backend, error)
	logger      *slog.Logger
	receiptPoll time.Duration
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		dial: func(ctx context.Context, url string) (Backend, error) {
			return ethclient.DialContext(ctx, url)
		},
		logger:      logger,
		receiptPoll: 2 * time.Second,
	}
}

// Register processes the targets sequentially so result ordering stays
// deterministic. One chain's failure never aborts the remaining chains.
func (e *Engine) Register(ctx context.Context, acct account.Resolved, targets []Target, tokenURI string, dryRun bool) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		res := e.registerOne(ctx, acct, t, tokenURI, dryRun)
		results = append(results, res)
	}
	return results
}

func (e *Engine) registerOne(ctx context.Context, acct account.Resolved, t Target, tokenURI string, dryRun bool) Result {
	res := Result{ChainID: t.ChainID, Chain: t.Name}

	client, err := e.dial(ctx, t.RPCURL)
	if err != nil {
		return classify(res, fmt.Errorf("connect to %s: %w", t.RPCURL, err))
	}
	defer client.Close()

	fee := e.readFee(ctx, client, t.Registry)
	res.FeeWei = fee.String()

	if dryRun {
		res.Status = StatusDryRun
		e.logger.Info("registration dry-run",
			"chain", t.Name, "registry", t.Registry.Hex(), "fee_wei", res.FeeWei)
		return res
	}

	txHash, err := e.submit(ctx, client, acct, t, tokenURI, fee)
	if err != nil {
		return classify(res, err)
	}
	res.Status = StatusSuccess
	res.TxHash = txHash
	e.logger.Info("wallet registered",
		"chain", t.Name, "address", acct.Address, "tx", txHash)
	return res
}

// Raw selectors; the registry ABI surface is small enough that generated
// bindings would be overkill.
var (
	feeSelector         = crypto.Keccak256([]byte("registrationFee()"))[:4]
	feeFallbackSelector = crypto.Keccak256([]byte("getRegistrationFee()"))[:4]
	registerSelector    = crypto.Keccak256([]byte("register(string)"))[:4]
)

// readFee queries the registration fee, falling back to the secondary
// accessor when the primary is unsupported and to zero when both are.
func (e *Engine) readFee(ctx context.Context, client Backend, registry common.Address) *big.Int {
	for _, selector := range [][]byte{feeSelector, feeFallbackSelector} {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &registry, Data: selector}, nil)
		if err != nil || len(out) == 0 {
			continue
		}
		return new(big.Int).SetBytes(out)
	}
	e.logger.Debug("registry exposes no fee accessor, assuming zero",
		"registry", registry.Hex())
	return big.NewInt(0)
}

func (e *Engine) submit(ctx context.Context, client Backend, acct account.Resolved, t Target, tokenURI string, fee *big.Int) (string, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(acct.WalletKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("wallet key: %w", err)
	}
	from := crypto.PubkeyToAddress(priv.PublicKey)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &t.Registry,
		Value:    fee,
		Gas:      registerGasLimit,
		GasPrice: gasPrice,
		Data:     registerCalldata(tokenURI),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(t.ChainID)), priv)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := e.waitReceipt(ctx, client, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

// waitReceipt polls for the transaction receipt until it lands, the
// timeout elapses, or ctx is cancelled.
func (e *Engine) waitReceipt(ctx context.Context, client Backend, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(receiptTimeout)
	ticker := time.NewTicker(e.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s: no receipt after %s", hash.Hex(), receiptTimeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// registerCalldata ABI-encodes register(string tokenURI).
func registerCalldata(tokenURI string) []byte {
	return append(append([]byte{}, registerSelector...), encodeStringArg(tokenURI)...)
}

// encodeStringArg encodes a single dynamic string argument: 32-byte offset,
// 32-byte length, then the bytes padded to a 32-byte boundary.
func encodeStringArg(s string) []byte {
	b := []byte(s)
	padded := (len(b) + 31) / 32 * 32
	out := make([]byte, 64+padded)
	out[31] = 0x20
	new(big.Int).SetInt64(int64(len(b))).FillBytes(out[32:64])
	copy(out[64:], b)
	return out
}

// classify folds an error into the result: "already registered" anywhere in
// the error text (case-insensitive) is its own status, everything else is a
// plain failure with the raw text retained.
func classify(res Result, err error) Result {
	if strings.Contains(strings.ToLower(err.Error()), "already registered") {
		res.Status = StatusAlreadyRegistered
		return res
	}
	res.Status = StatusFailed
	res.Err = err.Error()
	return res
}
