// Package ethereum - RPC helper functions for Ethereum adapter
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/express402/relayer/chainkit"
	"github.com/express402/relayer/chainkit/rpc"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCHelper provides helper functions for Ethereum RPC operations
type RPCHelper struct {
	client rpc.RPCClient
}

// NewRPCHelper creates a new Ethereum RPC helper
func NewRPCHelper(client rpc.RPCClient) *RPCHelper {
	return &RPCHelper{
		client: client,
	}
}

// GetTransactionCount retrieves the nonce for an address
func (r *RPCHelper) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	// Call eth_getTransactionCount with "pending" to get the next nonce
	result, err := r.client.Call(ctx, "eth_getTransactionCount", []interface{}{
		address,
		"pending",
	})
	if err != nil {
		return 0, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionCount RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	// Parse hex result
	var nonceHex string
	if err := json.Unmarshal(result, &nonceHex); err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse nonce: %s", err.Error()),
			err,
		)
	}

	// Convert hex to uint64
	nonce, err := hexutil.DecodeUint64(nonceHex)
	if err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to decode nonce hex: %s", err.Error()),
			err,
		)
	}

	return nonce, nil
}

// EstimateGas estimates gas for a transaction
func (r *RPCHelper) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	// Build transaction object for gas estimation
	txObj := map[string]interface{}{
		"from": from,
		"to":   to,
	}

	if value != nil && value.Cmp(big.NewInt(0)) > 0 {
		txObj["value"] = hexutil.EncodeBig(value)
	}

	if len(data) > 0 {
		txObj["data"] = hexutil.Encode(data)
	}

	// Call eth_estimateGas
	result, err := r.client.Call(ctx, "eth_estimateGas", []interface{}{txObj})
	if err != nil {
		return 0, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_estimateGas RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	// Parse hex result
	var gasHex string
	if err := json.Unmarshal(result, &gasHex); err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse gas estimate: %s", err.Error()),
			err,
		)
	}

	// Convert hex to uint64
	gas, err := hexutil.DecodeUint64(gasHex)
	if err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to decode gas hex: %s", err.Error()),
			err,
		)
	}

	return gas, nil
}

// GetBaseFee retrieves the current base fee from the latest block (EIP-1559)
func (r *RPCHelper) GetBaseFee(ctx context.Context) (*big.Int, error) {
	// Call eth_getBlockByNumber with "latest"
	result, err := r.client.Call(ctx, "eth_getBlockByNumber", []interface{}{
		"latest",
		false, // Don't include full transactions
	})
	if err != nil {
		return nil, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			"eth_getBlockByNumber RPC failed",
			nil,
			err,
		)
	}

	// Parse block result
	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}

	if err := json.Unmarshal(result, &block); err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse block",
			err,
		)
	}

	// Decode base fee
	if block.BaseFeePerGas == "" {
		// Pre-London fork, no base fee
		return big.NewInt(0), nil
	}

	baseFee, err := hexutil.DecodeBig(block.BaseFeePerGas)
	if err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to decode base fee",
			err,
		)
	}

	return baseFee, nil
}

// GetFeeHistory retrieves historical fee data for priority fee estimation
func (r *RPCHelper) GetFeeHistory(ctx context.Context, blockCount int) (*big.Int, error) {
	// Call eth_feeHistory
	result, err := r.client.Call(ctx, "eth_feeHistory", []interface{}{
		hexutil.EncodeUint64(uint64(blockCount)),
		"latest",
		[]int{50}, // 50th percentile (median)
	})
	if err != nil {
		return nil, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			"eth_feeHistory RPC failed",
			nil,
			err,
		)
	}

	// Parse fee history
	var feeHistory struct {
		Reward [][]string `json:"reward"`
	}

	if err := json.Unmarshal(result, &feeHistory); err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse fee history",
			err,
		)
	}

	if len(feeHistory.Reward) == 0 {
		// No data, return default 2 Gwei
		return big.NewInt(2e9), nil
	}

	// Average the per-block 50th-percentile priority fees
	var sum *big.Int = big.NewInt(0)
	count := 0

	for _, rewards := range feeHistory.Reward {
		if len(rewards) > 0 {
			priorityFee, err := hexutil.DecodeBig(rewards[0])
			if err == nil {
				sum.Add(sum, priorityFee)
				count++
			}
		}
	}

	if count == 0 {
		return big.NewInt(2e9), nil // Default 2 Gwei
	}

	avgPriorityFee := new(big.Int).Div(sum, big.NewInt(int64(count)))
	return avgPriorityFee, nil
}

// SendRawTransaction broadcasts a signed, hex-encoded transaction.
func (r *RPCHelper) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := r.client.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_sendRawTransaction RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse tx hash: %s", err.Error()),
			err,
		)
	}

	return txHash, nil
}

// RawTransaction is the subset of eth_getTransactionByHash fields the
// adapter cares about.
type RawTransaction struct {
	Hash        string
	BlockNumber string
	BlockHash   string
}

// GetTransactionByHash fetches transaction details. A nil result with no
// error means the transaction is not yet known to the node.
func (r *RPCHelper) GetTransactionByHash(ctx context.Context, txHash string) (*RawTransaction, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionByHash", []interface{}{txHash})
	if err != nil {
		return nil, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionByHash RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	if string(result) == "null" {
		return nil, nil
	}

	var tx struct {
		Hash        string `json:"hash"`
		BlockNumber string `json:"blockNumber"`
		BlockHash   string `json:"blockHash"`
	}
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse transaction: %s", err.Error()),
			err,
		)
	}

	return &RawTransaction{Hash: tx.Hash, BlockNumber: tx.BlockNumber, BlockHash: tx.BlockHash}, nil
}

// RawReceipt is the subset of eth_getTransactionReceipt fields the adapter
// cares about.
type RawReceipt struct {
	Status      string
	BlockNumber string
	BlockHash   string
}

// GetTransactionReceipt fetches a transaction receipt. A nil result with no
// error means the transaction is pending (not yet mined).
func (r *RPCHelper) GetTransactionReceipt(ctx context.Context, txHash string) (*RawReceipt, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionReceipt RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	if string(result) == "null" {
		return nil, nil
	}

	var receipt RawReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse receipt: %s", err.Error()),
			err,
		)
	}

	return &receipt, nil
}

// GetBalance retrieves the native balance for an address.
func (r *RPCHelper) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := r.client.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getBalance RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse balance: %s", err.Error()),
			err,
		)
	}

	balance, err := hexutil.DecodeBig(balanceHex)
	if err != nil {
		return nil, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to decode balance hex: %s", err.Error()),
			err,
		)
	}

	return balance, nil
}

// GetBlockNumber retrieves the current block number
func (r *RPCHelper) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, chainkit.NewRetryableError(
			chainkit.ErrCodeRPCUnavailable,
			"eth_blockNumber RPC failed",
			nil,
			err,
		)
	}

	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse block number",
			err,
		)
	}

	blockNumber, err := hexutil.DecodeUint64(blockHex)
	if err != nil {
		return 0, chainkit.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to decode block number hex",
			err,
		)
	}

	return blockNumber, nil
}
