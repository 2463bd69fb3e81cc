// Package alchemy implements provider.BlockchainProvider against the
// Alchemy JSON-RPC API.
package alchemy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/express402/relayer/chainkit/provider"
)

// AlchemyProvider implements provider.BlockchainProvider for Alchemy.
type AlchemyProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	chainID    string
	networkID  string
}

var alchemyNetworks = map[string]string{
	"ethereum-mainnet": "https://eth-mainnet.g.alchemy.com/v2",
	"ethereum-sepolia": "https://eth-sepolia.g.alchemy.com/v2",
	"ethereum-goerli":  "https://eth-goerli.g.alchemy.com/v2",
	"polygon-mainnet":  "https://polygon-mainnet.g.alchemy.com/v2",
	"polygon-mumbai":   "https://polygon-mumbai.g.alchemy.com/v2",
	"arbitrum-mainnet": "https://arb-mainnet.g.alchemy.com/v2",
	"arbitrum-sepolia": "https://arb-sepolia.g.alchemy.com/v2",
	"optimism-mainnet": "https://opt-mainnet.g.alchemy.com/v2",
	"optimism-sepolia": "https://opt-sepolia.g.alchemy.com/v2",
	"base-mainnet":     "https://base-mainnet.g.alchemy.com/v2",
	"base-sepolia":     "https://base-sepolia.g.alchemy.com/v2",
}

func init() {
	provider.RegisterProvider("alchemy", func(config *provider.ProviderConfig) (provider.BlockchainProvider, error) {
		return NewAlchemyProvider(config)
	})
}

// NewAlchemyProvider creates a new Alchemy provider instance.
func NewAlchemyProvider(config *provider.ProviderConfig) (provider.BlockchainProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("alchemy API key is required")
	}

	var baseURL string
	if config.CustomEndpoint != "" {
		baseURL = config.CustomEndpoint
	} else {
		networkKey := config.ChainID
		if config.NetworkID != "" {
			networkKey = config.ChainID + "-" + config.NetworkID
		}

		var ok bool
		baseURL, ok = alchemyNetworks[networkKey]
		if !ok {
			return nil, fmt.Errorf("unsupported alchemy network: %s", networkKey)
		}
	}

	return &AlchemyProvider{
		apiKey:    config.APIKey,
		baseURL:   baseURL,
		chainID:   config.ChainID,
		networkID: config.NetworkID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (a *AlchemyProvider) ProviderName() string { return "alchemy" }

func (a *AlchemyProvider) SupportedChains() []string {
	return []string{"ethereum", "polygon", "arbitrum", "optimism", "base"}
}

func (a *AlchemyProvider) rpcCall(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s", a.baseURL, a.apiKey)

	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(reqJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewProviderError("RPC_ERROR", fmt.Sprintf("RPC call failed: %v", err), "alchemy", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewProviderError("HTTP_ERROR", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), "alchemy", resp.StatusCode >= 500, nil)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if rpcResp.Error != nil {
		retryable := rpcResp.Error.Code >= -32099 && rpcResp.Error.Code < -32000
		return nil, provider.NewProviderError("RPC_ERROR", rpcResp.Error.Message, "alchemy", retryable, nil)
	}

	return rpcResp.Result, nil
}

func hexToBigInt(hex string) *big.Int {
	n := new(big.Int)
	if len(hex) > 2 {
		n.SetString(hex[2:], 16)
	}
	return n
}

func (a *AlchemyProvider) checkChain(chainID string) error {
	if chainID != a.chainID {
		return fmt.Errorf("chain mismatch: provider for %s, requested %s", a.chainID, chainID)
	}
	return nil
}

func (a *AlchemyProvider) GetBalance(ctx context.Context, chainID, address string) (*big.Int, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, err
	}
	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return hexToBigInt(balanceHex), nil
}

func (a *AlchemyProvider) GetTokenBalance(ctx context.Context, chainID, address, tokenContract string) (*big.Int, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	data := fmt.Sprintf("0x70a08231%064s", address[2:])
	params := []interface{}{
		map[string]string{"to": tokenContract, "data": data},
		"latest",
	}
	result, err := a.rpcCall(ctx, "eth_call", params)
	if err != nil {
		return nil, err
	}
	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, fmt.Errorf("failed to parse token balance: %w", err)
	}
	return hexToBigInt(balanceHex), nil
}

func (a *AlchemyProvider) GetTransactionCount(ctx context.Context, chainID, address string) (uint64, error) {
	if err := a.checkChain(chainID); err != nil {
		return 0, err
	}
	result, err := a.rpcCall(ctx, "eth_getTransactionCount", []interface{}{address, "pending"})
	if err != nil {
		return 0, err
	}
	var nonceHex string
	if err := json.Unmarshal(result, &nonceHex); err != nil {
		return 0, fmt.Errorf("failed to parse nonce: %w", err)
	}
	return hexToBigInt(nonceHex).Uint64(), nil
}

func (a *AlchemyProvider) EstimateGas(ctx context.Context, chainID, from, to string, value *big.Int, data []byte) (uint64, error) {
	if err := a.checkChain(chainID); err != nil {
		return 0, err
	}
	params := map[string]interface{}{"from": from, "to": to}
	if value != nil && value.Sign() > 0 {
		params["value"] = fmt.Sprintf("0x%x", value)
	}
	if len(data) > 0 {
		params["data"] = fmt.Sprintf("0x%x", data)
	}
	result, err := a.rpcCall(ctx, "eth_estimateGas", []interface{}{params})
	if err != nil {
		return 0, err
	}
	var gasHex string
	if err := json.Unmarshal(result, &gasHex); err != nil {
		return 0, fmt.Errorf("failed to parse gas estimate: %w", err)
	}
	return hexToBigInt(gasHex).Uint64(), nil
}

func (a *AlchemyProvider) GetBaseFee(ctx context.Context, chainID string) (*big.Int, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_getBlockByNumber", []interface{}{"latest", false})
	if err != nil {
		return nil, err
	}
	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to parse block: %w", err)
	}
	if block.BaseFeePerGas == "" {
		return nil, fmt.Errorf("baseFeePerGas not available (pre-EIP1559 chain)")
	}
	return hexToBigInt(block.BaseFeePerGas), nil
}

func (a *AlchemyProvider) GetFeeHistory(ctx context.Context, chainID string, blockCount int) (*big.Int, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_feeHistory", []interface{}{
		fmt.Sprintf("0x%x", blockCount), "latest", []int{50},
	})
	if err != nil {
		return nil, err
	}
	var feeHistory struct {
		Reward [][]string `json:"reward"`
	}
	if err := json.Unmarshal(result, &feeHistory); err != nil {
		return nil, fmt.Errorf("failed to parse fee history: %w", err)
	}
	total := new(big.Int)
	count := 0
	for _, rewards := range feeHistory.Reward {
		if len(rewards) > 0 {
			total.Add(total, hexToBigInt(rewards[0]))
			count++
		}
	}
	if count == 0 {
		return big.NewInt(2e9), nil
	}
	return new(big.Int).Div(total, big.NewInt(int64(count))), nil
}

func (a *AlchemyProvider) EstimateBitcoinFee(ctx context.Context, chainID string, targetBlocks int) (int64, error) {
	return 0, fmt.Errorf("bitcoin fee estimation not supported by alchemy")
}

func (a *AlchemyProvider) SendRawTransaction(ctx context.Context, chainID, rawTx string) (string, error) {
	if err := a.checkChain(chainID); err != nil {
		return "", err
	}
	result, err := a.rpcCall(ctx, "eth_sendRawTransaction", []interface{}{rawTx})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("failed to parse tx hash: %w", err)
	}
	return txHash, nil
}

func (a *AlchemyProvider) GetTransactionByHash(ctx context.Context, chainID, txHash string) (*provider.TransactionInfo, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_getTransactionByHash", []interface{}{txHash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("transaction not found")
	}

	var tx struct {
		Hash        string `json:"hash"`
		From        string `json:"from"`
		To          string `json:"to"`
		Value       string `json:"value"`
		BlockNumber string `json:"blockNumber"`
		BlockHash   string `json:"blockHash"`
		Nonce       string `json:"nonce"`
		GasPrice    string `json:"gasPrice"`
		Gas         string `json:"gas"`
		Input       string `json:"input"`
	}
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}

	value := new(big.Int)
	if tx.Value != "" {
		value = hexToBigInt(tx.Value)
	}

	var blockNumber *uint64
	if tx.BlockNumber != "" && tx.BlockNumber != "null" {
		bn := hexToBigInt(tx.BlockNumber).Uint64()
		blockNumber = &bn
	}
	var blockHash *string
	if tx.BlockHash != "" && tx.BlockHash != "null" {
		blockHash = &tx.BlockHash
	}
	var nonce *uint64
	if tx.Nonce != "" {
		n := hexToBigInt(tx.Nonce).Uint64()
		nonce = &n
	}
	var gasPrice *big.Int
	if tx.GasPrice != "" {
		gasPrice = hexToBigInt(tx.GasPrice)
	}
	var gasLimit *uint64
	if tx.Gas != "" {
		g := hexToBigInt(tx.Gas).Uint64()
		gasLimit = &g
	}

	status := "pending"
	if blockNumber != nil {
		status = "confirmed"
	}

	return &provider.TransactionInfo{
		Hash: tx.Hash, From: tx.From, To: tx.To, Value: value,
		BlockNumber: blockNumber, BlockHash: blockHash, Status: status,
		Nonce: nonce, GasPrice: gasPrice, GasLimit: gasLimit, Data: []byte(tx.Input),
	}, nil
}

func (a *AlchemyProvider) GetTransactionReceipt(ctx context.Context, chainID, txHash string) (*provider.TransactionReceipt, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}
	var receipt provider.TransactionReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	return &receipt, nil
}

func (a *AlchemyProvider) GetBlockNumber(ctx context.Context, chainID string) (uint64, error) {
	if err := a.checkChain(chainID); err != nil {
		return 0, err
	}
	result, err := a.rpcCall(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, fmt.Errorf("failed to parse block number: %w", err)
	}
	return hexToBigInt(blockHex).Uint64(), nil
}

func (a *AlchemyProvider) GetBlock(ctx context.Context, chainID, blockIdentifier string) (*provider.BlockInfo, error) {
	if err := a.checkChain(chainID); err != nil {
		return nil, err
	}
	result, err := a.rpcCall(ctx, "eth_getBlockByNumber", []interface{}{blockIdentifier, false})
	if err != nil {
		return nil, err
	}
	var block struct {
		Number       string   `json:"number"`
		Hash         string   `json:"hash"`
		ParentHash   string   `json:"parentHash"`
		Timestamp    string   `json:"timestamp"`
		Transactions []string `json:"transactions"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("failed to parse block: %w", err)
	}
	return &provider.BlockInfo{
		Number:       hexToBigInt(block.Number).Uint64(),
		Hash:         block.Hash,
		ParentHash:   block.ParentHash,
		Timestamp:    hexToBigInt(block.Timestamp).Uint64(),
		Transactions: block.Transactions,
	}, nil
}

func (a *AlchemyProvider) ListUnspent(ctx context.Context, chainID, address string) ([]*provider.UTXO, error) {
	return nil, fmt.Errorf("UTXO operations not supported by alchemy (EVM chains only)")
}

func (a *AlchemyProvider) GetRawTransaction(ctx context.Context, chainID, txHash string, verbose bool) (*provider.BitcoinTransaction, error) {
	return nil, fmt.Errorf("bitcoin operations not supported by alchemy (EVM chains only)")
}

func (a *AlchemyProvider) HealthCheck(ctx context.Context) error {
	if _, err := a.GetBlockNumber(ctx, a.chainID); err != nil {
		return fmt.Errorf("alchemy health check failed: %w", err)
	}
	return nil
}

func (a *AlchemyProvider) Close() error { return nil }

var _ provider.BlockchainProvider = (*AlchemyProvider)(nil)
