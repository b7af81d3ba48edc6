package control

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/baseline/internal/snapshot"
	"github.com/mesh-intelligence/baseline/pkg/types"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AccessRequest reports one access, or a batch in Accesses.
type AccessRequest struct {
	Table    string        `json:"table,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Accesses []AccessEntry `json:"accesses,omitempty" binding:"omitempty,dive"`
}

type AccessEntry struct {
	Table string `json:"table" binding:"required"`
	Kind  string `json:"kind" binding:"required"`
}

var errEmptyAccess = errors.New("no table access in request")

func (s *Server) startTest(c *gin.Context) {
	id, err := s.svc.StartNewTest(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DataResponse{Data: gin.H{"boundary": id}})
}

func (s *Server) endTest(c *gin.Context) {
	if err := s.svc.EndTest(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) recordAccess(c *gin.Context) {
	var req AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entries := req.Accesses
	if req.Table != "" {
		entries = append([]AccessEntry{{Table: req.Table, Kind: req.Kind}}, entries...)
	}
	if len(entries) == 0 {
		badRequest(c, errEmptyAccess)
		return
	}

	// Validate the whole batch before recording any of it.
	accesses := make([]types.Access, 0, len(entries))
	for _, e := range entries {
		kind, err := types.ParseOperationKind(e.Kind)
		if err != nil {
			badRequest(c, err)
			return
		}
		name := types.NormalizeTableName(e.Table)
		if name == "" {
			badRequest(c, errEmptyAccess)
			return
		}
		accesses = append(accesses, types.Access{Table: name, Kind: kind})
	}
	for _, a := range accesses {
		s.svc.RecordAccess(a.Table, a.Kind)
	}
	c.JSON(http.StatusAccepted, DataResponse{Data: gin.H{"recorded": len(accesses)}})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: s.svc.Status()})
}

func (s *Server) drift(c *gin.Context) {
	diffs, err := s.svc.Drift(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if diffs == nil {
		diffs = []snapshot.TableDiff{}
	}
	c.JSON(http.StatusOK, DataResponse{Data: gin.H{"tables": diffs}})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Code: "bad_request", Message: err.Error()}})
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, types.ErrCycleResolution):
		status, code = http.StatusConflict, "cycle_resolution"
	case errors.Is(err, types.ErrResetExecution):
		code = "reset_execution"
	case errors.Is(err, types.ErrSchema):
		code = "schema"
	}
	s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: err.Error()}})
}
