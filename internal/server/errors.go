package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-arena/internal/domain"
	llmerrors "github.com/ahrav/go-arena/internal/llm/errors"
)

// Error codes returned in the error body.
const (
	codeBadRequest   = "bad_request"
	codeValidation   = "validation"
	codeCollaborator = "collaborator"
	codeInvariant    = "invariant"
	codeNotFound     = "not_found"
	codeInternal     = "internal"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Unsatisfied lists failing checklist conditions.
	Unsatisfied []string `json:"unsatisfied,omitempty"`
	// Operation, Type and Retryable describe collaborator failures.
	Operation string `json:"operation,omitempty"`
	Type      string `json:"type,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// statusFor maps an error class to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.Is(err, domain.ErrCollaborator):
		return http.StatusBadGateway, codeCollaborator
	case errors.Is(err, domain.ErrInvariant):
		return http.StatusConflict, codeInvariant
	}
	return http.StatusInternalServerError, codeInternal
}

// describe builds the error body for err.
func describe(err error) (int, errorBody) {
	status, code := statusFor(err)
	body := errorBody{Code: code, Message: err.Error()}

	var cerr *domain.ChecklistError
	if errors.As(err, &cerr) {
		body.Unsatisfied = cerr.Unsatisfied
	}

	var collab *domain.CollaboratorError
	if errors.As(err, &collab) {
		body.Operation = collab.Op
		if wf := llmerrors.ClassifyLLMError(collab.Err); wf != nil {
			body.Type = string(wf.Type)
			retryable := wf.Retryable
			body.Retryable = &retryable
		}
	}

	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	return status, body
}

// abortWithError writes err and stops the handler chain.
func abortWithError(c *gin.Context, err error) {
	status, body := describe(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// abortBadRequest reports a malformed request.
func abortBadRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: codeBadRequest, Message: err.Error()}})
}
