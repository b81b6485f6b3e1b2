package handler

type errorPayload struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	ExistingRequestID uint64 `json:"existingRequestId,omitempty"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// NewConflictResponse points the client at the already-open request so it
// can redirect instead of showing a bare failure.
func NewConflictResponse(message string, existingID uint64) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:              "conflict",
			Message:           message,
			ExistingRequestID: existingID,
		},
	}
}
