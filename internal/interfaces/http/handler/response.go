package handler

import "github.com/freight/recognition/internal/interfaces/http/dto"

// The types below only describe dto.Response per payload for the swagger
// annotations. Handlers never construct them.

// APIResponse is the success envelope carrying T
type APIResponse[T any] struct {
	Success bool      `json:"success" example:"true"`
	Data    T         `json:"data,omitempty"`
	Meta    *dto.Meta `json:"meta,omitempty"`
}

// ErrorResponse is the failure envelope. error.code is one of the dto.ErrCode values.
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error"`
}

// SuccessResponse acknowledges a command without a body, such as a policy delete
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}
