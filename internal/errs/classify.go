package errs

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// User-facing messages, kept separate from the developer detail. The
// application front end is Spanish.
const (
	msgNetwork    = "No se pudo conectar con el servidor. Verifica tu conexión."
	msgTimeout    = "La operación tardó demasiado. Inténtalo de nuevo."
	msgAuth       = "No tienes permisos para realizar esta operación."
	msgValidation = "Los datos enviados no son válidos."
	msgConflict   = "El registro fue modificado por otro usuario."
	msgRateLimit  = "Demasiadas solicitudes. Espera un momento."
	msgServer     = "Error del servidor. Inténtalo más tarde."
	msgUnknown    = "Ocurrió un error inesperado."
)

// Classify maps a raw failure into a ClassifiedError. It is pure: the same
// input always yields the same classification, and nothing is mutated.
func Classify(err error, opCtx map[string]interface{}) *ClassifiedError {
	if err == nil {
		return nil
	}

	ce := &ClassifiedError{
		Kind:        KindUnknown,
		Message:     err.Error(),
		UserMessage: msgUnknown,
		Context:     opCtx,
		Err:         err,
	}

	var httpErr *HTTPError
	var remoteErr *RemoteFailure
	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ce.Kind = KindTimeout
		ce.Retryable = true
		ce.UserMessage = msgTimeout

	case errors.As(err, &httpErr):
		classifyStatus(ce, httpErr)

	case errors.As(err, &remoteErr):
		ce.Kind = KindValidation
		ce.Message = remoteErr.Message
		ce.UserMessage = msgValidation

	case errors.As(err, &netErr) && netErr.Timeout():
		ce.Kind = KindTimeout
		ce.Retryable = true
		ce.UserMessage = msgTimeout

	case errors.As(err, &urlErr):
		ce.Kind = KindNetwork
		ce.Retryable = true
		ce.UserMessage = msgNetwork

	case errors.As(err, new(*net.OpError)):
		ce.Kind = KindNetwork
		ce.Retryable = true
		ce.UserMessage = msgNetwork
	}

	return ce
}

func classifyStatus(ce *ClassifiedError, httpErr *HTTPError) {
	ce.HTTPStatus = httpErr.StatusCode

	switch {
	case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
		ce.Kind = KindAuth
		ce.UserMessage = msgAuth
	case httpErr.StatusCode == 409:
		ce.Kind = KindConflict
		ce.UserMessage = msgConflict
	case httpErr.StatusCode == 422 || httpErr.StatusCode == 400:
		ce.Kind = KindValidation
		ce.UserMessage = msgValidation
	case httpErr.StatusCode == 429:
		ce.Kind = KindRateLimit
		ce.Retryable = true
		ce.RetryAfter = httpErr.RetryAfter
		ce.UserMessage = msgRateLimit
	case httpErr.StatusCode >= 500:
		ce.Kind = KindServer
		ce.Retryable = true
		ce.UserMessage = msgServer
	}
}
