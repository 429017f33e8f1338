package remote

import (
	"net/http"
	"time"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
)

// Handler serves ProvePath by proving with a native backend.
func Handler(backend *native.Backend, logger log.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = log.Root()
	}

	return func(c *gin.Context) {
		var req ProveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: zkvm.KindDecode})
			return
		}

		input, err := native.UnmarshalInput(req.Input)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: zkvm.KindDecode})
			return
		}

		start := time.Now()
		host := backend.NewHost(req.GuestCode, req.Options)
		proof, vk, err := host.Prove(c.Request.Context(), input)
		if err != nil {
			logger.Warn("Remote prove failed", "program", hexutil.Bytes(host.VerificationKey().Bytes()), "err", err)
			kind := zkvm.KindOf(err)
			c.JSON(statusForKind(kind), ErrorResponse{Error: err.Error(), Kind: kind})
			return
		}

		logger.Info("Remote prove completed", "items", input.Items(), "size", proof.Len(), "elapsed", time.Since(start))
		c.JSON(http.StatusOK, ProveResponse{Proof: proof.Bytes(), VerificationKey: vk.Bytes()})
	}
}

func statusForKind(kind zkvm.ErrorKind) int {
	switch kind {
	case zkvm.KindSerialization, zkvm.KindDecode:
		return http.StatusBadRequest
	case zkvm.KindGuestExecution, zkvm.KindVerification:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
