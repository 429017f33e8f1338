// Package bitcoin fetches blocks from a Bitcoin node and watches the chain
// tip for newly connected blocks.
package bitcoin

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// BlockSource provides blocks by height and hash.
type BlockSource interface {
	BestHeight(ctx context.Context) (int64, error)
	BlockHash(ctx context.Context, height int64) (chainhash.Hash, error)
	// Block returns the block with its height set.
	Block(ctx context.Context, hash chainhash.Hash) (*btcutil.Block, error)
}

// Client is a BlockSource backed by bitcoind JSON-RPC.
type Client struct {
	rpcClient *rpcclient.Client
	network   *chaincfg.Params
}

var _ BlockSource = (*Client)(nil)

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}

func NewClient(host string, port int, user, password, network string) (*Client, error) {
	netParams, err := NetworkParams(network)
	if err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	return &Client{
		rpcClient: client,
		network:   netParams,
	}, nil
}

// Network returns the configured chain parameters.
func (c *Client) Network() *chaincfg.Params {
	return c.network
}

// Ping checks connectivity and that the node runs the configured network.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := c.rpcClient.GetBlockChainInfo()
	if err != nil {
		return fmt.Errorf("failed to get chain info: %w", err)
	}
	if chainName(c.network) != info.Chain {
		return fmt.Errorf("node runs %s, configured for %s", info.Chain, chainName(c.network))
	}
	return nil
}

func (c *Client) BestHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.rpcClient.GetBlockCount()
}

func (c *Client) BlockHash(ctx context.Context, height int64) (chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}
	hash, err := c.rpcClient.GetBlockHash(height)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to get block hash at %d: %w", height, err)
	}
	return *hash, nil
}

func (c *Client) Block(ctx context.Context, hash chainhash.Hash) (*btcutil.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header, err := c.rpcClient.GetBlockHeaderVerbose(&hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get header %s: %w", hash, err)
	}

	msg, err := c.rpcClient.GetBlock(&hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash, err)
	}

	block := btcutil.NewBlock(msg)
	block.SetHeight(header.Height)
	return block, nil
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Shutdown()
	}
}

// chainName returns the name bitcoind reports in getblockchaininfo.
func chainName(params *chaincfg.Params) string {
	switch params.Net {
	case chaincfg.MainNetParams.Net:
		return "main"
	case chaincfg.TestNet3Params.Net:
		return "test"
	case chaincfg.SigNetParams.Net:
		return "signet"
	default:
		return "regtest"
	}
}
