// Package history lists recent transfers touching an address by scanning event
// logs over a bounded block window.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/provider"
)

var ErrTransactionNotFound = errors.New("history: transaction not found")

// Event signatures of token transfers.
var (
	TopicTransfer       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	TopicTransferSingle = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
	TopicTransferBatch  = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))
)

// Fetcher retrieves and decorates transfer history.
type Fetcher struct {
	Lookback          uint64
	MaxLogs           int
	SyntheticFallback bool

	// OnFetch, when set, is called once per Fetch with its outcome.
	OnFetch func(elapsed time.Duration, count int, err error)

	logger *log.Logger
	now    func() time.Time
}

func New(cfg config.HistoryConfig, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	f := &Fetcher{
		Lookback:          cfg.LookbackBlocks,
		MaxLogs:           cfg.MaxLogs,
		SyntheticFallback: cfg.SyntheticFallback,
		logger:            logger.WithPrefix("history"),
		now:               time.Now,
	}
	if f.MaxLogs <= 0 {
		f.MaxLogs = config.Default().History.MaxLogs
	}
	return f
}

type logFilter struct {
	FromBlock string  `json:"fromBlock"`
	ToBlock   string  `json:"toBlock"`
	Topics    [][]any `json:"topics"`
}

type rpcLog struct {
	TxHash common.Hash `json:"transactionHash"`
}

type rpcTransaction struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Value    *hexutil.Big    `json:"value"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Nonce    hexutil.Uint64  `json:"nonce"`
}

type rpcReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
}

type rpcBlock struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// Fetch returns the transfers of address in the last Lookback blocks, newest
// first. Any failed lookup fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, address string, r provider.Requester) (txs []models.Transaction, err error) {
	start := time.Now()
	defer func() {
		if f.OnFetch != nil {
			f.OnFetch(time.Since(start), len(txs), err)
		}
	}()

	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("history: invalid address %q", address)
	}

	var tip hexutil.Uint64
	if err := call(ctx, r, &tip, provider.MethodBlockNumber); err != nil {
		return nil, fmt.Errorf("history: block number: %w", err)
	}
	from := uint64(0)
	if uint64(tip) > f.Lookback {
		from = uint64(tip) - f.Lookback
	}

	hashes, err := f.transferHashes(ctx, r, common.HexToAddress(address), from, uint64(tip))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("scanned logs", "address", address, "from", from, "to", uint64(tip), "txs", len(hashes))

	if len(hashes) == 0 {
		if f.SyntheticFallback {
			f.logger.Info("no transfers found, returning synthetic history", "address", address)
			return Synthetic(address, f.now()), nil
		}
		return []models.Transaction{}, nil
	}

	txs, err = f.lookupAll(ctx, r, address, hashes)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(txs)
	return txs, nil
}

// transferHashes runs the sender pass and then the recipient pass. Each pass
// covers Transfer (parties at topics 1 and 2) and the ERC-1155 events
// (parties at topics 2 and 3). Logs are capped at MaxLogs in the order the
// node returned them and hashes are deduplicated.
func (f *Fetcher) transferHashes(ctx context.Context, r provider.Requester, addr common.Address, from, to uint64) ([]common.Hash, error) {
	account := common.BytesToHash(addr.Bytes())
	single := []any{TopicTransfer}
	multi := []any{TopicTransferSingle, TopicTransferBatch}
	who := []any{account}

	queries := [][][]any{
		{single, who},
		{multi, nil, who},
		{single, nil, who},
		{multi, nil, nil, who},
	}

	var logs []rpcLog
	for _, topics := range queries {
		if len(logs) >= f.MaxLogs {
			break
		}
		filter := logFilter{
			FromBlock: hexutil.EncodeUint64(from),
			ToBlock:   hexutil.EncodeUint64(to),
			Topics:    topics,
		}
		var batch []rpcLog
		if err := call(ctx, r, &batch, provider.MethodGetLogs, filter); err != nil {
			return nil, fmt.Errorf("history: get logs: %w", err)
		}
		logs = append(logs, batch...)
	}
	if len(logs) > f.MaxLogs {
		logs = logs[:f.MaxLogs]
	}

	seen := make(map[common.Hash]struct{}, len(logs))
	hashes := make([]common.Hash, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.TxHash]; ok {
			continue
		}
		seen[l.TxHash] = struct{}{}
		hashes = append(hashes, l.TxHash)
	}
	return hashes, nil
}

// lookupAll resolves hashes one at a time, in log order.
func (f *Fetcher) lookupAll(ctx context.Context, r provider.Requester, address string, hashes []common.Hash) ([]models.Transaction, error) {
	out := make([]models.Transaction, 0, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		tx, err := f.lookup(ctx, r, address, h)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *Fetcher) lookup(ctx context.Context, r provider.Requester, address string, hash common.Hash) (models.Transaction, error) {
	var tx *rpcTransaction
	if err := call(ctx, r, &tx, provider.MethodGetTransaction, hash); err != nil {
		return models.Transaction{}, fmt.Errorf("history: transaction %s: %w", hash.Hex(), err)
	}
	if tx == nil {
		return models.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash.Hex())
	}
	var receipt *rpcReceipt
	if err := call(ctx, r, &receipt, provider.MethodGetReceipt, hash); err != nil {
		return models.Transaction{}, fmt.Errorf("history: receipt %s: %w", hash.Hex(), err)
	}
	if receipt == nil {
		return models.Transaction{}, fmt.Errorf("%w: receipt for %s", ErrTransactionNotFound, hash.Hex())
	}

	out := models.Transaction{
		Hash:     tx.Hash.Hex(),
		From:     tx.From.Hex(),
		Value:    weiToEther(tx.Value),
		Gas:      strconv.FormatUint(uint64(tx.Gas), 10),
		GasPrice: "0",
		Nonce:    uint64(tx.Nonce),
		Status:   models.TxFailed,
		Type:     models.TxIncoming,
	}
	if tx.To != nil {
		out.To = tx.To.Hex()
	}
	if tx.GasPrice != nil {
		out.GasPrice = tx.GasPrice.ToInt().String()
	}
	if uint64(receipt.Status) == types.ReceiptStatusSuccessful {
		out.Status = models.TxConfirmed
	}
	if strings.EqualFold(tx.From.Hex(), address) {
		out.Type = models.TxOutgoing
	}

	if receipt.BlockNumber != nil {
		n := receipt.BlockNumber.ToInt().Uint64()
		out.BlockNumber = &n

		var block *rpcBlock
		if err := call(ctx, r, &block, provider.MethodGetBlock, hexutil.EncodeUint64(n), false); err != nil {
			return models.Transaction{}, fmt.Errorf("history: block %d: %w", n, err)
		}
		if block != nil {
			ms := int64(block.Timestamp) * 1000
			out.Timestamp = &ms
		} else {
			f.logger.Debug("block unavailable", "block", n)
		}
	}
	return out, nil
}

func weiToEther(v *hexutil.Big) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToInt(), -18).String()
}

// SortNewestFirst orders by timestamp descending. Entries without a timestamp
// go last and ties keep their order.
func SortNewestFirst(txs []models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Timestamp, txs[j].Timestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

func call(ctx context.Context, r provider.Requester, result any, method string, params ...any) error {
	raw, err := r.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
