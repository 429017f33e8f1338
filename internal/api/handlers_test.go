package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"strataprover/internal/bitcoin"
	"strataprover/internal/blockspace/blockspacetest"
	"strataprover/internal/guest"
	"strataprover/internal/proof"
	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"
	"strataprover/internal/zkvm/remote"
	"strataprover/pkg/types"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = log.NewLogger(slog.DiscardHandler)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
	Meta    *MetaInfo       `json:"meta"`
}

type harness struct {
	svc    *proof.Service
	server *APIServer
	engine *gin.Engine
	chain  *bitcoin.MemoryChain
	blocks []*wire.MsgBlock
}

func newNative(t *testing.T) *native.Backend {
	t.Helper()
	registry := native.NewRegistry()
	require.NoError(t, guest.Register(registry))
	return native.NewBackend(native.Config{
		Registry:        registry,
		Groth16Seed:     []byte("api-test"),
		AllowMockProofs: true,
		Logger:          discard,
	})
}

func newHarness(t *testing.T, backend zkvm.Backend) *harness {
	t.Helper()

	blocks := blockspacetest.Chain(chainhash.Hash{}, 0, 4, true)
	chain := bitcoin.NewMemoryChain(0)
	chain.Add(blocks...)

	store, err := proof.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := proof.NewService(proof.ServiceConfig{
		Backend: backend,
		Source:  chain,
		Store:   store,
		Options: zkvm.DefaultProverOptions(),
		Workers: 2,
		Logger:  discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ws := NewWebSocketManager(discard)
	ws.Start(ctx)

	server := NewAPIServer(Config{
		Prover:    svc,
		Backend:   backend,
		Source:    chain,
		WebSocket: ws,
		Logger:    discard,
	})
	t.Cleanup(server.Close)

	engine := gin.New()
	server.RegisterRoutes(engine)
	return &harness{svc: svc, server: server, engine: engine, chain: chain, blocks: blocks}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) *envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return &env
}

func (h *harness) wait(t *testing.T, id string) *types.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	task, err := h.svc.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func TestAPIInfoAndHealth(t *testing.T) {
	h := newHarness(t, newNative(t))

	rec := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info APIInfoResponse
	env := decode(t, rec, &info)
	assert.True(t, env.Success)
	assert.Equal(t, serviceName, info.Name)
	assert.Equal(t, native.BackendName, info.Backend)
	assert.Equal(t, []string{guest.BlockspaceName, guest.L1BatchName}, info.Programs)
	assert.NotEmpty(t, env.Meta.RequestID)
	assert.Equal(t, "v1", env.Meta.Version)
	assert.Equal(t, env.Meta.RequestID, rec.Header().Get("X-Request-ID"))

	rec = h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, serviceName, health.Service)
	require.Contains(t, health.Services, "bitcoin")
	assert.EqualValues(t, 3, health.Services["bitcoin"].Details["best_height"])
}

func TestHealthDegradedWithoutBlocks(t *testing.T) {
	h := newHarness(t, newNative(t))
	h.server.source = bitcoin.NewMemoryChain(0)

	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.Services["bitcoin"].Healthy)
}

func TestProveBlockAndVerify(t *testing.T) {
	h := newHarness(t, newNative(t))
	block := h.blocks[1]

	rec := h.do(t, http.MethodPost, "/v1/prove/block", types.ProveBlockRequest{BlockHash: block.BlockHash().String()})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var prove types.ProveResponse
	decode(t, rec, &prove)
	require.Len(t, prove.TaskIDs, 1)
	id := prove.TaskIDs[0]
	h.wait(t, id)

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var task types.Task
	decode(t, rec, &task)
	assert.Equal(t, types.StatusCompleted, task.Status)
	require.NotNil(t, task.Block)
	assert.True(t, task.Block.Valid)
	assert.Equal(t, block.BlockHash().String(), task.Block.BlockHash)

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+id+"/proof", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var proofResp types.ProofResponse
	decode(t, rec, &proofResp)
	assert.Equal(t, types.TaskBlock, proofResp.Kind)
	require.NotEmpty(t, proofResp.Proof)
	assert.Equal(t, guest.BlockspaceKey().Bytes(), []byte(proofResp.VerificationKey))

	rec = h.do(t, http.MethodPost, "/v1/proofs/verify", types.VerifyProofRequest{
		Program:         guest.BlockspaceName,
		Proof:           proofResp.Proof,
		VerificationKey: proofResp.VerificationKey,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var verified types.VerifyProofResponse
	decode(t, rec, &verified)
	assert.True(t, verified.Valid)
	require.NotNil(t, verified.Block)
	assert.Equal(t, int64(1), verified.Block.Height)
	assert.True(t, verified.Block.LinksToPrev)

	rec = h.do(t, http.MethodPost, "/v1/proofs/verify", types.VerifyProofRequest{
		Program:         guest.BlockspaceName,
		Proof:           proofResp.Proof,
		VerificationKey: guest.L1BatchKey().Bytes(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VERIFICATION_FAILED", decode(t, rec, nil).Error.Code)

	rec = h.do(t, http.MethodPost, "/v1/proofs/verify", types.VerifyProofRequest{
		Program: "unknown",
		Proof:   proofResp.Proof,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProveBlockErrors(t *testing.T) {
	h := newHarness(t, newNative(t))

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed body", "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"missing hash", map[string]string{}, http.StatusBadRequest, "BAD_REQUEST"},
		{"short hash", types.ProveBlockRequest{BlockHash: "abcd"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown block", types.ProveBlockRequest{BlockHash: chainhash.Hash{0x01}.String()}, http.StatusNotFound, "BLOCK_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/prove/block", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			env := decode(t, rec, nil)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	rec := h.do(t, http.MethodGet, "/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/tasks/missing/proof", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProveL1BatchAndListTasks(t *testing.T) {
	h := newHarness(t, newNative(t))

	rec := h.do(t, http.MethodPost, "/v1/prove/l1-batch", types.ProveL1BatchRequest{
		StartBlockHash: h.blocks[0].BlockHash().String(),
		EndBlockHash:   h.blocks[3].BlockHash().String(),
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var prove types.ProveResponse
	decode(t, rec, &prove)
	require.Len(t, prove.TaskIDs, 5)

	batch := h.wait(t, prove.TaskIDs[0])
	require.Equal(t, types.StatusCompleted, batch.Status, batch.Error)
	require.NotNil(t, batch.Batch)
	assert.True(t, batch.Batch.AllValid)
	assert.Equal(t, uint32(4), batch.Batch.BlockCount)

	rec = h.do(t, http.MethodGet, "/v1/tasks?kind=btc-blockspace&per_page=3&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []types.Task
	env := decode(t, rec, &tasks)
	assert.Len(t, tasks, 1)
	require.NotNil(t, env.Meta.Pagination)
	assert.Equal(t, 4, env.Meta.Pagination.Total)
	assert.Equal(t, 2, env.Meta.Pagination.TotalPages)
	assert.Equal(t, "4", rec.Header().Get("X-Pagination-Total"))

	rec = h.do(t, http.MethodGet, "/v1/tasks?kind=l1-batch", nil)
	decode(t, rec, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, prove.TaskIDs[0], tasks[0].ID)

	rec = h.do(t, http.MethodPost, "/v1/prove/l1-batch", types.ProveL1BatchRequest{
		StartBlockHash: h.blocks[3].BlockHash().String(),
		EndBlockHash:   h.blocks[0].BlockHash().String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stallBackend struct {
	*native.Backend
	release chan struct{}
}

func (b *stallBackend) NewHost(guestCode []byte, opts zkvm.ProverOptions) zkvm.Host {
	return &stallHost{Host: b.Backend.NewHost(guestCode, opts), release: b.release}
}

type stallHost struct {
	zkvm.Host
	release chan struct{}
}

func (h *stallHost) Prove(ctx context.Context, input zkvm.GuestInput) (zkvm.Proof, zkvm.VerificationKey, error) {
	select {
	case <-h.release:
	case <-ctx.Done():
		return zkvm.Proof{}, zkvm.VerificationKey{}, ctx.Err()
	}
	return h.Host.Prove(ctx, input)
}

func TestProofNotReady(t *testing.T) {
	backend := &stallBackend{Backend: newNative(t), release: make(chan struct{})}
	h := newHarness(t, backend)

	rec := h.do(t, http.MethodPost, "/v1/prove/block", types.ProveBlockRequest{BlockHash: h.blocks[2].BlockHash().String()})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var prove types.ProveResponse
	decode(t, rec, &prove)
	id := prove.TaskIDs[0]

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+id+"/proof", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PROOF_NOT_READY", decode(t, rec, nil).Error.Code)

	close(backend.release)
	h.wait(t, id)

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+id+"/proof", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The stalling backend is not native, so no remote prove route exists.
	rec = h.do(t, http.MethodPost, remote.ProvePath, "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInclusionProofEndpoint(t *testing.T) {
	h := newHarness(t, newNative(t))
	block := h.blocks[1]
	txid := block.Transactions[1].TxHash()
	path := "/v1/spv/" + block.BlockHash().String() + "/" + txid.String()

	rec := h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var spv proof.SPVProof
	decode(t, rec, &spv)
	assert.Equal(t, int64(3), spv.Confirmations)
	assert.NoError(t, proof.VerifyProof(&spv))

	rec = h.do(t, http.MethodGet, path+"?min_confirmations=3", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, path+"?min_confirmations=10", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_CONFIRMATIONS", decode(t, rec, nil).Error.Code)

	rec = h.do(t, http.MethodGet, path+"?min_confirmations=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/spv/"+block.BlockHash().String()+"/"+chainhash.Hash{0x02}.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TX_NOT_FOUND", decode(t, rec, nil).Error.Code)

	rec = h.do(t, http.MethodGet, "/v1/spv/zz/"+txid.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, h.chain.Reorg(1, blockspacetest.NewBlock(h.blocks[0].BlockHash(), 1, 1, false)))
	rec = h.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STALE_BLOCK", decode(t, rec, nil).Error.Code)
}

func TestStats(t *testing.T) {
	h := newHarness(t, newNative(t))

	rec := h.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]map[string]interface{}
	decode(t, rec, &stats)
	assert.Equal(t, native.BackendName, stats["prover"]["backend"])
	assert.EqualValues(t, 0, stats["websocket"]["connected_clients"])
}

func TestRemoteBackendThroughProveRoute(t *testing.T) {
	nb := newNative(t)
	h := newHarness(t, nb)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	rb := remote.NewBackend(remote.Config{
		BaseURL:  srv.URL,
		Timeout:  30 * time.Second,
		Verifier: nb.Verifier(),
		Logger:   discard,
	})
	host := rb.NewHost(guest.BlockspaceImage, zkvm.DefaultProverOptions())
	input, err := guest.BlockspaceInput(host.NewInputBuilder(), h.blocks[0], guest.BlockspaceParams{})
	require.NoError(t, err)

	p, vk, err := host.Prove(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, vk.Equal(guest.BlockspaceKey()))
	require.NoError(t, rb.Verifier().Verify(vk, p))

	out, err := zkvm.ExtractPublicOutput[guest.BlockspaceOutput](rb.Verifier(), p)
	require.NoError(t, err)
	assert.True(t, out.Valid())
}

func TestRateLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(MetricsMiddleware(), RateLimitMiddleware(2))
	engine.GET("/", func(c *gin.Context) { SuccessResponse(c, nil) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestWebSocketTaskEvents(t *testing.T) {
	h := newHarness(t, newNative(t))
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?client_id=tester", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))

	read := func() WebSocketResponse {
		t.Helper()
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg WebSocketResponse
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	msg := read()
	assert.Equal(t, "connected", msg.Event)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Action: "subscribe", Topic: TopicTasks, RequestID: "r1"}))
	msg = read()
	assert.Equal(t, "subscribed", msg.Event)
	assert.Equal(t, "r1", msg.RequestID)
	assert.Equal(t, 1, h.server.wsManager.GetTopicSubscribers(TopicTasks))

	rec := h.do(t, http.MethodPost, "/v1/prove/block", types.ProveBlockRequest{BlockHash: h.blocks[0].BlockHash().String()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var events []string
	for {
		msg = read()
		require.Equal(t, EventTypeTask, msg.Type)
		events = append(events, msg.Event)
		if msg.Event == "task_completed" || msg.Event == "task_failed" {
			break
		}
	}
	assert.Equal(t, []string{"task_created", "task_proving", "task_completed"}, events)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Action: "dance"}))
	msg = read()
	assert.Equal(t, EventTypeError, msg.Type)
	assert.Equal(t, "unknown_action", msg.Event)
}

func TestParseHash(t *testing.T) {
	hash := chainhash.Hash{0xab}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	got, ok := parseHash(c, "hash", hash.String())
	require.True(t, ok)
	assert.Equal(t, hash, got)

	_, ok = parseHash(c, "hash", "0x"+hash.String())
	assert.False(t, ok)
}
