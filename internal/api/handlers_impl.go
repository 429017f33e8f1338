package api

import (
	"errors"
	"net/http"
	"strconv"

	"strataprover/internal/proof"
	"strataprover/internal/zkvm"
	"strataprover/pkg/types"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
)

func (s *APIServer) proveBlock(c *gin.Context) {
	var req types.ProveBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	hash, ok := parseHash(c, "block_hash", req.BlockHash)
	if !ok {
		return
	}

	id, err := s.proofService.ProveBlock(c.Request.Context(), hash)
	if err != nil {
		s.serviceError(c, err)
		return
	}
	AcceptedResponse(c, types.ProveResponse{TaskIDs: []string{id}})
}

func (s *APIServer) proveL1Batch(c *gin.Context) {
	var req types.ProveL1BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	start, ok := parseHash(c, "start_block_hash", req.StartBlockHash)
	if !ok {
		return
	}
	end, ok := parseHash(c, "end_block_hash", req.EndBlockHash)
	if !ok {
		return
	}

	ids, err := s.proofService.ProveL1Batch(c.Request.Context(), start, end)
	if err != nil {
		s.serviceError(c, err)
		return
	}
	AcceptedResponse(c, types.ProveResponse{TaskIDs: ids})
}

func (s *APIServer) listTasks(c *gin.Context) {
	tasks, err := s.proofService.Tasks()
	if err != nil {
		s.serviceError(c, err)
		return
	}

	status := types.TaskStatus(c.Query("status"))
	kind := types.TaskKind(c.Query("kind"))
	filtered := make([]*types.Task, 0, len(tasks))
	for _, task := range tasks {
		if status != "" && task.Status != status {
			continue
		}
		if kind != "" && task.Kind != kind {
			continue
		}
		filtered = append(filtered, task)
	}

	page, perPage := getPaginationParams(c)
	total := len(filtered)
	from := (page - 1) * perPage
	if from > total {
		from = total
	}
	to := from + perPage
	if to > total {
		to = total
	}

	PaginatedResponse(c, filtered[from:to], PaginationInfo{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	})
}

func (s *APIServer) getTask(c *gin.Context) {
	task, err := s.proofService.Task(c.Param("id"))
	if err != nil {
		s.serviceError(c, err)
		return
	}
	SuccessResponse(c, task)
}

func (s *APIServer) getTaskProof(c *gin.Context) {
	resp, err := s.proofService.Proof(c.Param("id"))
	if err != nil {
		s.serviceError(c, err)
		return
	}
	SuccessResponse(c, resp)
}

func (s *APIServer) verifyProof(c *gin.Context) {
	var req types.VerifyProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	resp, err := s.proofService.VerifyProof(req.Program, zkvm.NewProof(req.Proof), zkvm.NewVerificationKey(req.VerificationKey))
	if err != nil {
		s.serviceError(c, err)
		return
	}
	SuccessResponse(c, resp)
}

func (s *APIServer) getInclusionProof(c *gin.Context) {
	blockHash, ok := parseHash(c, "blockhash", c.Param("blockhash"))
	if !ok {
		return
	}
	txid, ok := parseHash(c, "txid", c.Param("txid"))
	if !ok {
		return
	}

	var minConfirmations int64
	if raw := c.Query("min_confirmations"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			BadRequestError(c, "Invalid min_confirmations", map[string]interface{}{"min_confirmations": raw})
			return
		}
		minConfirmations = n
	}

	spv, err := s.proofService.InclusionProof(c.Request.Context(), blockHash, txid)
	if err != nil {
		s.serviceError(c, err)
		return
	}
	if err := proof.ValidateMinimumConfirmations(spv, minConfirmations); err != nil {
		ConflictError(c, "INSUFFICIENT_CONFIRMATIONS", err.Error(), map[string]interface{}{
			"confirmations":     spv.Confirmations,
			"min_confirmations": minConfirmations,
		})
		return
	}
	SuccessResponse(c, spv)
}

func (s *APIServer) getStats(c *gin.Context) {
	SuccessResponse(c, map[string]interface{}{
		"prover": s.proofService.Stats(),
		"websocket": map[string]interface{}{
			"connected_clients": s.wsManager.GetClientCount(),
			"task_subscribers":  s.wsManager.GetTopicSubscribers(TopicTasks),
			"block_subscribers": s.wsManager.GetTopicSubscribers(TopicBlocks),
		},
	})
}

// serviceError maps prover errors onto HTTP responses
func (s *APIServer) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, proof.ErrTaskNotFound):
		NotFoundError(c, err.Error())
	case errors.Is(err, proof.ErrBlockUnavailable):
		ErrorResponseWithCode(c, http.StatusNotFound, "BLOCK_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, proof.ErrTxNotFound):
		ErrorResponseWithCode(c, http.StatusNotFound, "TX_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, proof.ErrProofNotReady):
		ConflictError(c, "PROOF_NOT_READY", err.Error(), nil)
	case errors.Is(err, proof.ErrInvalidRange), errors.Is(err, proof.ErrUnknownProgram):
		BadRequestError(c, err.Error(), nil)
	case errors.Is(err, proof.ErrStaleBlock):
		ConflictError(c, "STALE_BLOCK", err.Error(), nil)
	case errors.Is(err, proof.ErrServiceClosed):
		ServiceUnavailableError(c, err.Error())
	case zkvm.KindOf(err) == zkvm.KindVerification:
		VerificationFailedError(c, err.Error())
	case zkvm.KindOf(err) == zkvm.KindDecode, zkvm.KindOf(err) == zkvm.KindSerialization:
		ErrorResponseWithCode(c, http.StatusBadRequest, "INVALID_PROOF", err.Error(), nil)
	default:
		s.logger.Error("Request failed", "path", c.Request.URL.Path, "err", err)
		InternalServerError(c, "Internal error", map[string]interface{}{"error": err.Error()})
	}
}

func parseHash(c *gin.Context, field, value string) (chainhash.Hash, bool) {
	hash, err := chainhash.NewHashFromStr(value)
	if err != nil || len(value) != chainhash.MaxHashStringSize {
		BadRequestError(c, "Invalid hash", map[string]interface{}{field: value})
		return chainhash.Hash{}, false
	}
	return *hash, true
}
