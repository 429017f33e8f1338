package guest_test

import (
	"context"
	"log/slog"
	"testing"

	"strataprover/internal/blockspace/blockspacetest"
	"strataprover/internal/guest"
	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *native.Backend {
	t.Helper()
	registry := native.NewRegistry()
	require.NoError(t, guest.Register(registry))
	return native.NewBackend(native.Config{
		Registry:        registry,
		Groth16Seed:     []byte("guest-test"),
		AllowMockProofs: true,
		Logger:          log.NewLogger(slog.DiscardHandler),
	})
}

func proveBlock(t *testing.T, backend *native.Backend, block *wire.MsgBlock, params guest.BlockspaceParams, opts zkvm.ProverOptions) (zkvm.Proof, zkvm.VerificationKey) {
	t.Helper()
	host := backend.NewHost(guest.BlockspaceImage, opts)
	input, err := guest.BlockspaceInput(host.NewInputBuilder(), block, params)
	require.NoError(t, err)
	proof, vk, err := host.Prove(context.Background(), input)
	require.NoError(t, err)
	return proof, vk
}

func TestRegisterTwiceFails(t *testing.T) {
	registry := native.NewRegistry()
	require.NoError(t, guest.Register(registry))
	assert.Error(t, guest.Register(registry))

	name, ok := registry.Name(guest.BlockspaceKey())
	require.True(t, ok)
	assert.Equal(t, guest.BlockspaceName, name)
	name, ok = registry.Name(guest.L1BatchKey())
	require.True(t, ok)
	assert.Equal(t, guest.L1BatchName, name)
}

func TestImage(t *testing.T) {
	image, err := guest.Image(guest.L1BatchName)
	require.NoError(t, err)
	assert.Equal(t, guest.L1BatchImage, image)

	_, err = guest.Image("nope")
	assert.Error(t, err)
}

func TestEvaluateGenesis(t *testing.T) {
	out, err := guest.EvaluateBlock(chaincfg.MainNetParams.GenesisBlock, guest.BlockspaceParams{Height: 0})
	require.NoError(t, err)
	assert.True(t, out.Valid())
	assert.Equal(t, *chaincfg.MainNetParams.GenesisHash, out.BlockHash)
	assert.Equal(t, uint32(1), out.TxCount)
	assert.Equal(t, chaincfg.MainNetParams.GenesisBlock.Header.Timestamp.Unix(), out.Timestamp)
}

func TestEvaluateBlockLinkage(t *testing.T) {
	block := blockspacetest.NewBlock(chainhash.Hash{0x01}, 10, 2, true)

	out, err := guest.EvaluateBlock(block, guest.BlockspaceParams{Height: 10, PrevBlockHash: chainhash.Hash{0x01}.String()})
	require.NoError(t, err)
	assert.True(t, out.LinksToPrev)
	assert.True(t, out.Valid())

	out, err = guest.EvaluateBlock(block, guest.BlockspaceParams{Height: 10, PrevBlockHash: chainhash.Hash{0x02}.String()})
	require.NoError(t, err)
	assert.False(t, out.LinksToPrev)
	assert.False(t, out.Valid())

	_, err = guest.EvaluateBlock(block, guest.BlockspaceParams{Height: 10, PrevBlockHash: "zz"})
	assert.Error(t, err)
}

func TestBlockspaceGuest(t *testing.T) {
	backend := newBackend(t)
	block := blockspacetest.NewBlock(chainhash.Hash{0x07}, 5, 3, true)
	params := guest.BlockspaceParams{Height: 5}

	for _, opts := range []zkvm.ProverOptions{
		zkvm.DefaultProverOptions(),
		{EnableCompression: true},
		{StarkToSnarkConversion: true},
	} {
		proof, vk := proveBlock(t, backend, block, params, opts)
		assert.True(t, vk.Equal(guest.BlockspaceKey()))

		expected, err := guest.EvaluateBlock(block, params)
		require.NoError(t, err)
		require.NoError(t, backend.Verifier().VerifyWithPublicParams(vk, expected, proof))

		out, err := zkvm.ExtractPublicOutput[guest.BlockspaceOutput](backend.Verifier(), proof)
		require.NoError(t, err)
		assert.True(t, out.Valid())
		assert.Equal(t, block.BlockHash(), out.BlockHash)
		assert.Equal(t, uint32(4), out.TxCount)
	}
}

func TestBlockspaceGuestReportsTampering(t *testing.T) {
	backend := newBackend(t)
	block := blockspacetest.NewBlock(chainhash.Hash{}, 1, 2, true)
	block.Header.MerkleRoot[0] ^= 0xff

	proof, _ := proveBlock(t, backend, block, guest.BlockspaceParams{Height: 1}, zkvm.DefaultProverOptions())
	out, err := zkvm.ExtractPublicOutput[guest.BlockspaceOutput](backend.Verifier(), proof)
	require.NoError(t, err)
	assert.False(t, out.MerkleRootValid)
	assert.True(t, out.WitnessCommitmentValid)
	assert.False(t, out.Valid())
}

func TestBlockspaceGuestRejectsGarbage(t *testing.T) {
	backend := newBackend(t)
	host := backend.NewHost(guest.BlockspaceImage, zkvm.DefaultProverOptions())

	raw := append(blockspacetest.Serialize(blockspacetest.NewBlock(chainhash.Hash{}, 1, 0, false)), 0x00)
	for _, data := range [][]byte{{0x01, 0x02}, raw} {
		input, err := host.NewInputBuilder().Write(guest.BlockspaceParams{Height: 1}).WriteSerialized(data).Build()
		require.NoError(t, err)
		_, _, err = host.Prove(context.Background(), input)
		assert.ErrorIs(t, err, zkvm.ErrGuestExecution)
	}
}

func proveChain(t *testing.T, backend *native.Backend, blocks []*wire.MsgBlock, start int64, opts zkvm.ProverOptions) []zkvm.AggregationInput {
	t.Helper()
	inputs := make([]zkvm.AggregationInput, 0, len(blocks))
	for i, block := range blocks {
		proof, vk := proveBlock(t, backend, block, guest.BlockspaceParams{Height: start + int64(i)}, opts)
		inputs = append(inputs, zkvm.NewAggregationInput(proof, vk))
	}
	return inputs
}

func TestL1BatchGuest(t *testing.T) {
	backend := newBackend(t)
	prev := chainhash.Hash{0x09}
	blocks := blockspacetest.Chain(prev, 100, 4, true)

	for _, opts := range []zkvm.ProverOptions{
		zkvm.DefaultProverOptions(),
		{EnableCompression: true},
		{StarkToSnarkConversion: true},
	} {
		children := proveChain(t, backend, blocks, 100, opts)

		host := backend.NewHost(guest.L1BatchImage, opts)
		input, err := guest.BatchInput(host.NewInputBuilder(), 100, children)
		require.NoError(t, err)
		proof, vk, err := host.Prove(context.Background(), input)
		require.NoError(t, err)
		require.NoError(t, backend.Verifier().Verify(vk, proof))

		out, err := zkvm.ExtractPublicOutput[guest.BatchOutput](backend.Verifier(), proof)
		require.NoError(t, err)
		assert.Equal(t, int64(100), out.StartHeight)
		assert.Equal(t, int64(103), out.EndHeight)
		assert.Equal(t, prev, out.PrevBlockHash)
		assert.Equal(t, blocks[0].BlockHash(), out.StartBlockHash)
		assert.Equal(t, blocks[3].BlockHash(), out.EndBlockHash)
		assert.Equal(t, uint32(4), out.BlockCount)
		assert.True(t, out.AllValid)
	}
}

func TestL1BatchGuestRejectsBrokenChains(t *testing.T) {
	backend := newBackend(t)
	opts := zkvm.DefaultProverOptions()
	blocks := blockspacetest.Chain(chainhash.Hash{}, 1, 3, false)
	children := proveChain(t, backend, blocks, 1, opts)

	other := blockspacetest.NewBlock(chainhash.Hash{0x42}, 2, 1, false)
	otherProof, otherVK := proveBlock(t, backend, other, guest.BlockspaceParams{Height: 2}, opts)

	batchHost := backend.NewHost(guest.L1BatchImage, opts)
	emptyInput, err := batchHost.NewInputBuilder().WriteCompact(guest.BatchParams{StartHeight: 1}).Build()
	require.NoError(t, err)
	batchProof, batchVK, err := backend.NewHost(guest.L1BatchImage, opts).Prove(context.Background(), mustBatch(t, backend, 1, children[:1]))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input zkvm.GuestInput
	}{
		{"empty", emptyInput},
		{"wrong start", mustBatch(t, backend, 2, children)},
		{"gap", mustBatch(t, backend, 1, []zkvm.AggregationInput{children[0], children[2]})},
		{"unlinked", mustBatch(t, backend, 1, []zkvm.AggregationInput{children[0], zkvm.NewAggregationInput(otherProof, otherVK)})},
		{"wrong program", mustBatch(t, backend, 1, []zkvm.AggregationInput{zkvm.NewAggregationInput(batchProof, batchVK)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := backend.NewHost(guest.L1BatchImage, opts).Prove(context.Background(), tt.input)
			assert.ErrorIs(t, err, zkvm.ErrGuestExecution)
		})
	}
}

func TestL1BatchGuestCarriesInvalidBlocks(t *testing.T) {
	backend := newBackend(t)
	opts := zkvm.DefaultProverOptions()
	blocks := blockspacetest.Chain(chainhash.Hash{}, 1, 2, true)

	// Strip the commitment output after sealing; the chain still links.
	coinbase := blocks[1].Transactions[0]
	coinbase.TxOut = coinbase.TxOut[:1]

	children := proveChain(t, backend, blocks, 1, opts)
	proof, _, err := backend.NewHost(guest.L1BatchImage, opts).Prove(context.Background(), mustBatch(t, backend, 1, children))
	require.NoError(t, err)

	out, err := zkvm.ExtractPublicOutput[guest.BatchOutput](backend.Verifier(), proof)
	require.NoError(t, err)
	assert.False(t, out.AllValid)
}

func mustBatch(t *testing.T, backend *native.Backend, start int64, children []zkvm.AggregationInput) zkvm.GuestInput {
	t.Helper()
	host := backend.NewHost(guest.L1BatchImage, zkvm.DefaultProverOptions())
	input, err := guest.BatchInput(host.NewInputBuilder(), start, children)
	require.NoError(t, err)
	return input
}
