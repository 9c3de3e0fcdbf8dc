package http

import (
	"context"
	"errors"
	"net/http"

	"gastos/internal/auth"
	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/log"
	"gastos/internal/report"
	"gastos/internal/resilience"
	"gastos/internal/services"
)

// statusClientClosed is logged when the caller went away before the answer.
const statusClientClosed = 499

// Messages shown to users.
const (
	msgSession       = "Tu sesión expiró. Inicia sesión de nuevo."
	msgLogin         = "Error al iniciar sesión. Verifica tus credenciales."
	msgInactive      = "Tu usuario está inactivo. Contacta al administrador."
	msgForbidden     = "No tienes permiso para realizar esta operación."
	msgEditWindow    = "Solo puedes modificar registros de los últimos 7 días."
	msgNotFound      = "Registro no encontrado."
	msgNoRows        = "No hay datos para exportar en el período seleccionado."
	msgOffline       = "Sin conexión a internet"
	msgConnection    = "No se pudo establecer conexión con el servidor. Por favor, recarga la página."
	msgTimeout       = "Query timeout - la consulta tardó demasiado"
	msgDuplicate     = "Ya existe un registro con ese nombre."
	msgTooMany       = "Demasiados intentos. Espera un momento e inténtalo de nuevo."
	msgBadRequest    = "Solicitud inválida"
	msgMonthYear     = "Por favor selecciona mes y año"
	msgUnknownExport = "Tipo de exportación desconocido"
)

var validationMessages = []struct {
	err error
	msg string
}{
	{core.ErrInvalidAmount, "El monto debe ser mayor a 0, con máximo 2 decimales."},
	{core.ErrFutureDate, "La fecha no puede ser futura."},
	{core.ErrInvalidDate, "Fecha inválida."},
	{core.ErrInvalidRange, "La fecha inicial no puede ser posterior a la final."},
	{core.ErrEmptyDescription, "La descripción es obligatoria."},
	{core.ErrTextTooLong, "El texto es demasiado largo."},
	{core.ErrMissingReference, "Selecciona una categoría y un método de pago."},
	{core.ErrInvalidStatus, "Estado inválido."},
	{core.ErrInvalidRole, "Rol inválido."},
	{core.ErrInvalidKind, "Tipo de ingreso inválido."},
	{core.ErrInvalidEmail, "Correo electrónico inválido."},
	{core.ErrWeakPassword, "La contraseña debe tener al menos 8 caracteres, una mayúscula y un número."},
	{core.ErrInvalidAttachment, "Archivo inválido: solo imágenes JPG, PNG, GIF o PDF de máximo 5 MB."},
	{report.ErrInvalidSelection, "Período inválido."},
}

// translate maps err to a status and a user message. Cancellations map to
// an empty message.
func translate(err error, fallback string) (int, string) {
	if resilience.IsCanceled(err) {
		return statusClientClosed, ""
	}
	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrSessionExpired), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, msgSession
	case errors.Is(err, auth.ErrInactiveUser):
		return http.StatusForbidden, msgInactive
	case errors.Is(err, services.ErrForbidden), errors.Is(err, report.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	case errors.Is(err, core.ErrEditWindowClosed):
		return http.StatusForbidden, msgEditWindow
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, export.ErrNoRows):
		return http.StatusNotFound, msgNoRows
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, msgBadRequest
	}
	for _, v := range validationMessages {
		if errors.Is(err, v.err) {
			return http.StatusUnprocessableEntity, v.msg
		}
	}
	switch {
	case errors.Is(err, resilience.ErrOffline):
		return http.StatusServiceUnavailable, msgOffline
	case errors.Is(err, resilience.ErrConnectivityLost):
		return http.StatusServiceUnavailable, msgConnection
	}

	var be *resilience.BackendError
	if errors.As(err, &be) {
		switch {
		case be.Code == resilience.CodeUniqueViolation:
			return http.StatusConflict, msgDuplicate
		case be.Code == resilience.CodeRowNotFound:
			return http.StatusNotFound, msgNotFound
		case be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden:
			return http.StatusUnauthorized, msgSession
		}
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, msgTimeout
	}
	return http.StatusInternalServerError, fallback
}

// fail logs err in full and answers with its translation.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, msg := translate(err, fallback)
	logger := log.FromContext(r.Context())
	switch {
	case status == statusClientClosed:
		logger.DebugContext(r.Context(), "Request canceled by client", log.FieldError, err.Error())
		w.WriteHeader(status)
		return
	case status >= http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldError, err.Error(),
			log.FieldErrorKind, resilience.Classify(err).String())
	default:
		logger.WarnContext(r.Context(), "Request rejected",
			log.FieldStatusCode, status,
			log.FieldError, err.Error())
	}
	writeError(w, status, msg)
}
