package models

// TxStatus is the settlement state of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TxType is the direction of a transaction relative to the wallet address.
type TxType string

const (
	TxIncoming TxType = "incoming"
	TxOutgoing TxType = "outgoing"
)

// Transaction holds transaction details decorated with receipt and block data.
// BlockNumber and Timestamp stay nil until the transaction is mined.
type Transaction struct {
	Hash        string   `json:"hash"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       string   `json:"value"`    // ether, decimal
	Gas         string   `json:"gas"`      // gas limit, decimal
	GasPrice    string   `json:"gasPrice"` // wei, decimal
	Nonce       uint64   `json:"nonce"`
	BlockNumber *uint64  `json:"blockNumber"`
	Timestamp   *int64   `json:"timestamp"` // unix milliseconds
	Status      TxStatus `json:"status"`
	Type        TxType   `json:"type"`
}

// WalletState is the session state reported by the wallet.
type WalletState struct {
	Address               *string       `json:"address"`
	IsConnected           bool          `json:"isConnected"`
	IsConnecting          bool          `json:"isConnecting"`
	IsSwitchingNetwork    bool          `json:"isSwitchingNetwork"`
	Error                 *string       `json:"error"`
	ChainID               *string       `json:"chainId"`
	Balance               *string       `json:"balance"` // raw hex wei as reported by the provider
	Transactions          []Transaction `json:"transactions"`
	IsLoadingTransactions bool          `json:"isLoadingTransactions"`
}

// Clone returns a deep copy so readers can never mutate the owner's state.
func (s WalletState) Clone() WalletState {
	out := s
	out.Address = cloneString(s.Address)
	out.Error = cloneString(s.Error)
	out.ChainID = cloneString(s.ChainID)
	out.Balance = cloneString(s.Balance)
	if s.Transactions != nil {
		out.Transactions = make([]Transaction, len(s.Transactions))
		copy(out.Transactions, s.Transactions)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// NetworkOption is a chain the user can switch to.
type NetworkOption struct {
	ID   string `json:"id"` // hex chain id, e.g. "0x1"
	Name string `json:"name"`
}

// DefaultNetworkOptions mirrors the networks offered by the wallet card.
var DefaultNetworkOptions = []NetworkOption{
	{ID: "0x1", Name: "Ethereum Mainnet"},
	{ID: "0x5", Name: "Goerli Testnet"},
	{ID: "0xaa36a7", Name: "Sepolia Testnet"},
	{ID: "0x89", Name: "Polygon Mainnet"},
	{ID: "0x13881", Name: "Mumbai Testnet"},
}

// ChainName resolves a chain id against options, falling back to "Chain <id>".
func ChainName(options []NetworkOption, id string) string {
	for _, o := range options {
		if o.ID == id {
			return o.Name
		}
	}
	return "Chain " + id
}

// ChainResult holds check results for a specific network.
type ChainResult struct {
	Name            string      `json:"name"`
	ConfigChainID   string      `json:"config_chain_id"`
	RPCs            []RPCResult `json:"rpcs"`
	Inconsistent    bool        `json:"inconsistent"`
	ChainIDUpdated  bool        `json:"chain_id_updated"`
	ObservedChainID string      `json:"observed_chain_id,omitempty"`
}

// RPCResult holds check results for a specific RPC URL.
type RPCResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID string `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration check.
type TestReport struct {
	ConfigPath         string        `json:"config_path"`
	ValidStructure     bool          `json:"valid_structure"`
	StructureErrors    []string      `json:"structure_errors,omitempty"`
	AccountCount       int           `json:"account_count"`
	NetworkCount       int           `json:"network_count"`
	Chains             []ChainResult `json:"chains,omitempty"`
	InconsistentChains []string      `json:"inconsistent_chains,omitempty"`
	ConfigUpdated      bool          `json:"config_updated"`
	SaveError          string        `json:"save_error,omitempty"`
	DryRun             bool          `json:"dry_run"`
}
