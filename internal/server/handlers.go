package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/domain"
)

type promptRequest struct {
	Text string `json:"text"`
}

type confirmRequest struct {
	Text *string `json:"text,omitempty"`
}

type nudgeRequest struct {
	Text string `json:"text"`
}

type rewindRequest struct {
	Turn int `json:"turn"`
}

type submitRequest struct {
	OverallFailure domain.OverallFailure `json:"overall_failure"`
}

type commitResponse struct {
	Turn         domain.Turn         `json:"turn"`
	Conversation annotation.Snapshot `json:"conversation"`
}

type checklistResponse struct {
	Checklist   annotation.Checklist `json:"checklist"`
	Complete    bool                 `json:"complete"`
	Unsatisfied []string             `json:"unsatisfied"`
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// turnParam parses the :n path segment.
func turnParam(c *gin.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return 0, fmt.Errorf("turn must be an integer: %q", c.Param("n"))
	}
	return n, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "conversations": s.svc.Len()})
}

func (s *Server) catalog(c *gin.Context) {
	c.JSON(http.StatusOK, domain.BuildCatalog())
}

func (s *Server) createConversation(c *gin.Context) {
	var patch domain.ConfigurationPatch
	if err := bindOptional(c, &patch); err != nil {
		abortBadRequest(c, err)
		return
	}
	snap, err := s.svc.Create(c.Request.Context(), patch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Location", "/v1/conversations/"+snap.ID)
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) getConversation(c *gin.Context) {
	snap, err := s.svc.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) configure(c *gin.Context) {
	var patch domain.ConfigurationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortBadRequest(c, err)
		return
	}
	cfg, err := s.svc.Configure(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) start(c *gin.Context) {
	var patch domain.ConfigurationPatch
	if err := bindOptional(c, &patch); err != nil {
		abortBadRequest(c, err)
		return
	}
	snap, err := s.svc.Start(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) setPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	view, err := s.svc.SetPrompt(c.Param("id"), req.Text)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) confirmPrompt(c *gin.Context) {
	var req confirmRequest
	if err := bindOptional(c, &req); err != nil {
		abortBadRequest(c, err)
		return
	}
	view, err := s.svc.ConfirmPrompt(c.Param("id"), req.Text)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) generate(c *gin.Context) {
	out, err := s.svc.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responses": out})
}

func (s *Server) nudge(c *gin.Context) {
	var req nudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	out, err := s.svc.Nudge(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": out})
}

func (s *Server) updateEvaluation(c *gin.Context) {
	var rec domain.EvaluationRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		abortBadRequest(c, err)
		return
	}
	view, err := s.svc.UpdateEvaluation(c.Param("id"), rec)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) checklist(c *gin.Context) {
	list, err := s.svc.Checklist(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	unsatisfied := list.Unsatisfied()
	if unsatisfied == nil {
		unsatisfied = []string{}
	}
	c.JSON(http.StatusOK, checklistResponse{Checklist: list, Complete: list.Complete(), Unsatisfied: unsatisfied})
}

func (s *Server) commit(c *gin.Context) {
	turn, snap, err := s.svc.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, commitResponse{Turn: turn, Conversation: snap})
}

func (s *Server) endEarly(c *gin.Context) {
	turn, snap, err := s.svc.EndEarly(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, commitResponse{Turn: turn, Conversation: snap})
}

func (s *Server) rewindBounds(c *gin.Context) {
	lo, hi, err := s.svc.RewindBounds(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"min": lo, "max": hi})
}

func (s *Server) rewind(c *gin.Context) {
	var req rewindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	snap, err := s.svc.Rewind(c.Request.Context(), c.Param("id"), req.Turn)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) viewTurn(c *gin.Context) {
	n, err := turnParam(c)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	turn, err := s.svc.ViewTurn(c.Param("id"), n)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (s *Server) amendEvaluation(c *gin.Context) {
	n, err := turnParam(c)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	var rec domain.EvaluationRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		abortBadRequest(c, err)
		return
	}
	turn, err := s.svc.AmendEvaluation(c.Request.Context(), c.Param("id"), n, rec)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	receipt, err := s.svc.Submit(c.Request.Context(), c.Param("id"), req.OverallFailure)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
