package blockspace_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"strataprover/internal/blockspace"
	"strataprover/internal/blockspace/blockspacetest"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloneBlock(t *testing.T, block *wire.MsgBlock) *wire.MsgBlock {
	t.Helper()
	var clone wire.MsgBlock
	require.NoError(t, clone.Deserialize(bytes.NewReader(blockspacetest.Serialize(block))))
	return &clone
}

func segwitBlock(t *testing.T) *wire.MsgBlock {
	t.Helper()
	return blockspacetest.NewBlock(*chaincfg.RegressionNetParams.GenesisHash, 1, 4, true)
}

func TestCheckMerkleRootGenesis(t *testing.T) {
	for _, params := range []*chaincfg.Params{&chaincfg.MainNetParams, &chaincfg.RegressionNetParams} {
		assert.True(t, blockspace.CheckMerkleRoot(params.GenesisBlock), params.Name)
	}
}

func TestCheckMerkleRootDetectsHeaderTampering(t *testing.T) {
	block := cloneBlock(t, chaincfg.MainNetParams.GenesisBlock)
	for bit := 0; bit < 8*chainhash.HashSize; bit++ {
		block.Header.MerkleRoot[bit/8] ^= 1 << (bit % 8)
		assert.False(t, blockspace.CheckMerkleRoot(block), "bit %d", bit)
		block.Header.MerkleRoot[bit/8] ^= 1 << (bit % 8)
	}
	assert.True(t, blockspace.CheckMerkleRoot(block))
}

func TestCheckMerkleRootDetectsTransactionTampering(t *testing.T) {
	block := segwitBlock(t)
	require.True(t, blockspace.CheckMerkleRoot(block))

	block.Transactions[2].TxOut[0].Value++
	assert.False(t, blockspace.CheckMerkleRoot(block))
}

func TestCheckMerkleRootIgnoresWitness(t *testing.T) {
	block := segwitBlock(t)
	block.Transactions[1].TxIn[0].Witness[0][0] ^= 0xff
	assert.True(t, blockspace.CheckMerkleRoot(block))
}

func TestCheckMerkleRootEmptyBlock(t *testing.T) {
	block := wire.NewMsgBlock(&chaincfg.MainNetParams.GenesisBlock.Header)
	assert.False(t, blockspace.CheckMerkleRoot(block))
	assert.False(t, blockspace.CheckMerkleRoot(nil))
}

func TestChecksRejectMalformedTransactions(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(block *wire.MsgBlock)
	}{
		{"nil transaction", func(b *wire.MsgBlock) { b.Transactions = append(b.Transactions, nil) }},
		{"nil coinbase", func(b *wire.MsgBlock) { b.Transactions[0] = nil }},
		{"nil input", func(b *wire.MsgBlock) { b.Transactions[1].TxIn = append(b.Transactions[1].TxIn, nil) }},
		{"nil output", func(b *wire.MsgBlock) { b.Transactions[0].TxOut = append(b.Transactions[0].TxOut, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := segwitBlock(t)
			tt.mangle(block)

			assert.NotPanics(t, func() {
				assert.False(t, blockspace.CheckMerkleRoot(block))
				assert.False(t, blockspace.CheckWitnessCommitment(block))
				_, ok := blockspace.ComputeWitnessRoot(block)
				assert.False(t, ok)
			})
		})
	}
}

func TestTxIDAndWTxID(t *testing.T) {
	block := segwitBlock(t)
	for _, tx := range block.Transactions {
		assert.Equal(t, tx.TxHash(), blockspace.ComputeTxID(tx))
		assert.Equal(t, tx.WitnessHash(), blockspace.ComputeWTxID(tx))
		assert.NotEqual(t, blockspace.ComputeTxID(tx), blockspace.ComputeWTxID(tx))
	}

	legacy := chaincfg.MainNetParams.GenesisBlock.Transactions[0]
	assert.Equal(t, blockspace.ComputeTxID(legacy), blockspace.ComputeWTxID(legacy))
}

func TestComputeWitnessRootMatchesReference(t *testing.T) {
	block := segwitBlock(t)
	got, ok := blockspace.ComputeWitnessRoot(block)
	require.True(t, ok)

	txs := btcutil.NewBlock(block).Transactions()
	assert.Equal(t, blockchain.CalcMerkleRoot(txs, true), got)
}

func TestComputeWitnessCommitment(t *testing.T) {
	root := blockspace.Sha256d([]byte("root"))
	reserved := make([]byte, 32)

	preimage := append(root[:], reserved...)
	assert.Equal(t, blockspace.Sha256d(preimage), blockspace.ComputeWitnessCommitment(root, reserved))
}

func TestCheckWitnessCommitmentNoWitness(t *testing.T) {
	assert.True(t, blockspace.CheckWitnessCommitment(chaincfg.MainNetParams.GenesisBlock))

	legacy := blockspacetest.NewBlock(chainhash.Hash{}, 1, 3, false)
	assert.True(t, blockspace.CheckWitnessCommitment(legacy))

	empty := wire.NewMsgBlock(&legacy.Header)
	assert.True(t, blockspace.CheckWitnessCommitment(empty))
}

func TestCheckWitnessCommitmentValid(t *testing.T) {
	block := segwitBlock(t)
	assert.True(t, blockspace.CheckWitnessCommitment(block))
	assert.NoError(t, blockchain.ValidateWitnessCommitment(btcutil.NewBlock(block)))
}

// Regtest blocks 1 and 2 as mined by bitcoind, recorded in btcd's
// integration tests. Each coinbase carries the reserved value witness and a
// commitment output.
var bitcoindBlocks = []struct {
	hash string
	raw  string
}{
	{
		hash: "36c056247e8c0589f6307995e4e13acf2b2b79cad9ecd5a4eeab2131ed0ecde5",
		raw: "0000002006226e46111a0b59caaf126043eb5bbf28c34f3a5e332a1fc7b2b73cf18891" +
			"0f71881025ae0d41ce8748b79ac40e5f3197af3bb83a594def7943aff0fce504c638ea6d63f" +
			"fff7f2000000000010200000000010100000000000000000000000000000000000000000000" +
			"00000000000000000000ffffffff025100ffffffff0200f2052a010000001600149b0f9d020" +
			"8b3b425246e16830562a63bf1c701180000000000000000266a24aa21a9ede2f61c3f71d1de" +
			"fd3fa999dfa36953755c690689799962b48bebd836974e8cf90120000000000000000000000" +
			"000000000000000000000000000000000000000000000000000",
	},
	{
		hash: "664b51334782a4ad16e8471b530dcd0027c75b8c25187b41dfc85ecd353295c6",
		raw: "00000020e5cd0eed3121abeea4d5ecd9ca792b2bcf3ae1e4957930f689058c7e2456c0" +
			"362a78a11b875d31af2ea493aa5b6b623e0d481f11e69f7147ab974be9da087f3e24696f63f" +
			"fff7f2001000000010200000000010100000000000000000000000000000000000000000000" +
			"00000000000000000000ffffffff025200ffffffff0200f2052a0100000016001470fea1feb" +
			"4969c1f237753ae29c0217c6637835c0000000000000000266a24aa21a9ede2f61c3f71d1de" +
			"fd3fa999dfa36953755c690689799962b48bebd836974e8cf90120000000000000000000000" +
			"000000000000000000000000000000000000000000000000000",
	},
}

func decodeBlock(t *testing.T, raw string) *wire.MsgBlock {
	t.Helper()
	data, err := hex.DecodeString(raw)
	require.NoError(t, err)
	var block wire.MsgBlock
	require.NoError(t, block.Deserialize(bytes.NewReader(data)))
	return &block
}

func TestBitcoindMinedSegwitBlocks(t *testing.T) {
	for _, fixture := range bitcoindBlocks {
		t.Run(fixture.hash[:16], func(t *testing.T) {
			block := decodeBlock(t, fixture.raw)
			assert.Equal(t, fixture.hash, blockspace.ComputeBlockHash(&block.Header).String())
			assert.True(t, blockspace.CheckMerkleRoot(block))
			assert.True(t, blockspace.CheckWitnessCommitment(block))
			assert.True(t, blockspace.CheckPoW(block))

			reserved := decodeBlock(t, fixture.raw)
			reserved.Transactions[0].TxIn[0].Witness[0][31] ^= 0x01
			assert.False(t, blockspace.CheckWitnessCommitment(reserved))

			committed := decodeBlock(t, fixture.raw)
			outs := committed.Transactions[0].TxOut
			outs[len(outs)-1].PkScript[20] ^= 0x01
			assert.False(t, blockspace.CheckWitnessCommitment(committed))
		})
	}
}

func TestCheckWitnessCommitmentTampered(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(block *wire.MsgBlock)
	}{
		{
			name: "reserved value",
			tamper: func(block *wire.MsgBlock) {
				block.Transactions[0].TxIn[0].Witness[0][0] ^= 0x01
			},
		},
		{
			name: "commitment byte",
			tamper: func(block *wire.MsgBlock) {
				outs := block.Transactions[0].TxOut
				outs[len(outs)-1].PkScript[37] ^= 0x01
			},
		},
		{
			name: "spending witness",
			tamper: func(block *wire.MsgBlock) {
				block.Transactions[2].TxIn[0].Witness[1][0] ^= 0x01
			},
		},
		{
			name: "missing commitment",
			tamper: func(block *wire.MsgBlock) {
				outs := block.Transactions[0].TxOut
				block.Transactions[0].TxOut = outs[:len(outs)-1]
			},
		},
		{
			name: "short commitment script",
			tamper: func(block *wire.MsgBlock) {
				outs := block.Transactions[0].TxOut
				last := outs[len(outs)-1]
				last.PkScript = last.PkScript[:37]
			},
		},
		{
			name: "two reserved values",
			tamper: func(block *wire.MsgBlock) {
				in := block.Transactions[0].TxIn[0]
				in.Witness = append(in.Witness, make([]byte, 32))
			},
		},
		{
			name: "short reserved value",
			tamper: func(block *wire.MsgBlock) {
				in := block.Transactions[0].TxIn[0]
				in.Witness[0] = in.Witness[0][:31]
			},
		},
		{
			name: "coinbase not first",
			tamper: func(block *wire.MsgBlock) {
				txs := block.Transactions
				txs[0], txs[1] = txs[1], txs[0]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := segwitBlock(t)
			require.True(t, blockspace.CheckWitnessCommitment(block))

			tt.tamper(block)
			assert.False(t, blockspace.CheckWitnessCommitment(block))
		})
	}
}

func TestCheckWitnessCommitmentLastMatchWins(t *testing.T) {
	block := segwitBlock(t)
	coinbase := block.Transactions[0]
	valid := coinbase.TxOut[len(coinbase.TxOut)-1]
	bogus := wire.NewTxOut(0, blockspacetest.CommitmentScript(blockspace.Sha256d([]byte("bogus"))))

	// Valid commitment last, bogus one earlier: accepted.
	coinbase.TxOut = []*wire.TxOut{coinbase.TxOut[0], bogus, valid}
	assert.True(t, blockspace.CheckWitnessCommitment(block))
	assert.NoError(t, blockchain.ValidateWitnessCommitment(btcutil.NewBlock(block)))

	// Bogus commitment last: rejected even though a valid one exists.
	coinbase.TxOut = []*wire.TxOut{coinbase.TxOut[0], valid, bogus}
	assert.False(t, blockspace.CheckWitnessCommitment(block))
	assert.Error(t, blockchain.ValidateWitnessCommitment(btcutil.NewBlock(block)))
}

func TestCheckWitnessCommitmentTrailingScriptBytes(t *testing.T) {
	block := segwitBlock(t)
	outs := block.Transactions[0].TxOut
	last := outs[len(outs)-1]
	last.PkScript = append(last.PkScript, 0xde, 0xad)
	assert.True(t, blockspace.CheckWitnessCommitment(block))
}
