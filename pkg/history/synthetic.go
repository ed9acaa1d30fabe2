package history

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
)

// SyntheticCount is the number of placeholder records Synthetic returns.
const SyntheticCount = 5

// Synthetic builds placeholder history for address: alternating incoming and
// outgoing transfers one day apart, newest first, with random hashes,
// counterparties and values up to 0.1 ether.
func Synthetic(address string, now time.Time) []models.Transaction {
	txs := make([]models.Transaction, 0, SyntheticCount)
	for i := 0; i < SyntheticCount; i++ {
		counterparty := common.BytesToAddress(randomBytes(common.AddressLength)).Hex()
		incoming := i%2 == 0

		value := decimal.NewFromBigInt(randomInt(100_000), -6) // 0..0.099999 ether
		gas := 21_000 + randomInt(50_000).Uint64()
		gasPriceGwei := 20 + randomInt(50).Int64()
		gasPrice := decimal.NewFromInt(gasPriceGwei).Shift(9)
		block := 1_000_000 + randomInt(1_000_000).Uint64()
		ts := now.Add(-time.Duration(i) * 24 * time.Hour).UnixMilli()

		tx := models.Transaction{
			Hash:        common.BytesToHash(randomBytes(common.HashLength)).Hex(),
			Value:       value.String(),
			Gas:         strconv.FormatUint(gas, 10),
			GasPrice:    gasPrice.String(),
			Nonce:       uint64(i),
			BlockNumber: &block,
			Timestamp:   &ts,
			Status:      models.TxConfirmed,
		}
		if incoming {
			tx.From, tx.To, tx.Type = counterparty, address, models.TxIncoming
		} else {
			tx.From, tx.To, tx.Type = address, counterparty, models.TxOutgoing
		}
		txs = append(txs, tx)
	}
	SortNewestFirst(txs)
	return txs
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func randomInt(limit int64) *big.Int {
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return big.NewInt(0)
	}
	return n
}
