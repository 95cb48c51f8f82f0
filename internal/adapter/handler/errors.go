package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

type errorKind struct {
	err        error
	name       string
	httpStatus int
	grpcCode   codes.Code
}

var errorKinds = []errorKind{
	{domain.ErrValidation, "ValidationError", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrInsufficientInventory, "InsufficientInventory", http.StatusBadRequest, codes.FailedPrecondition},
	{domain.ErrDuplicateRequest, "DuplicateRequest", http.StatusConflict, codes.AlreadyExists},
	{domain.ErrNotFound, "NotFound", http.StatusNotFound, codes.NotFound},
	{domain.ErrResourceNotFound, "ResourceNotFound", http.StatusNotFound, codes.NotFound},
	{domain.ErrCapacityExceeded, "CapacityExceeded", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrForbidden, "Forbidden", http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrInvalidState, "InvalidState", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrStorageTimeout, "StorageTimeout", http.StatusGatewayTimeout, codes.DeadlineExceeded},
	{domain.ErrStorageUnavailable, "StorageUnavailable", http.StatusServiceUnavailable, codes.Unavailable},
}

var internalError = errorKind{name: "InternalError", httpStatus: http.StatusInternalServerError, grpcCode: codes.Internal}

func classifyError(err error) errorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k
		}
	}
	return internalError
}

// ErrorResponse is the body of every failed HTTP call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorResponse(err error) (int, ErrorResponse) {
	kind := classifyError(err)
	msg := err.Error()
	switch {
	case kind.err == nil:
		msg = "internal error"
	case kind.httpStatus >= http.StatusInternalServerError:
		msg = kind.err.Error()
	}
	return kind.httpStatus, ErrorResponse{Error: kind.name, Message: msg}
}
