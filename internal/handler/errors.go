package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/identity"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

// detail builds the {"detail": msg} error body every endpoint returns.
func detail(code int, msg string) *echo.HTTPError {
	return echo.NewHTTPError(code, msg)
}

// NewHTTPErrorHandler renders every error as {"detail": "..."}.  Errors
// that are not *echo.HTTPError become a logged, generic 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			default:
				msg = http.StatusText(code)
			}
		} else {
			l := zerolog.Ctx(c.Request().Context())
			if l.GetLevel() == zerolog.Disabled {
				l = &log
			}
			l.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, echo.Map{"detail": msg})
	}
}

// mapError translates domain errors into HTTP errors.  Anything it does
// not recognise is returned unchanged and ends up as a 500.
func mapError(err error) error {
	var (
		svcErr   *identity.ServiceError
		chainErr *chain.Error
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrNoToken):
		return detail(http.StatusUnauthorized, service.ErrNoToken.Error())
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, identity.ErrInvalidToken):
		return detail(http.StatusUnauthorized, "Could not validate credentials")
	case errors.Is(err, identity.ErrInvalidCredentials):
		return detail(http.StatusUnauthorized, identity.ErrInvalidCredentials.Error())
	case errors.Is(err, identity.ErrUserExists):
		return detail(http.StatusBadRequest, identity.ErrUserExists.Error())
	case errors.Is(err, identity.ErrUnsupportedProvider):
		return detail(http.StatusBadRequest, err.Error())

	case errors.Is(err, repository.ErrProfileNotFound):
		return detail(http.StatusNotFound, "User profile not found")
	case errors.Is(err, repository.ErrGroupNotFound):
		return detail(http.StatusNotFound, "Group not found")
	case errors.Is(err, repository.ErrMemberNotFound):
		return detail(http.StatusNotFound, "Member not found")
	case errors.Is(err, repository.ErrAdminNotFound):
		return detail(http.StatusNotFound, "Admin not found")
	case errors.Is(err, repository.ErrContributionNotFound):
		return detail(http.StatusNotFound, "Contribution not found")
	case errors.Is(err, repository.ErrNotificationNotFound):
		return detail(http.StatusNotFound, "Notification not found")
	case errors.Is(err, repository.ErrNotFound):
		return detail(http.StatusNotFound, "Not found")
	case errors.Is(err, repository.ErrAlreadyMember):
		return detail(http.StatusBadRequest, "User is already a member of this group")
	case errors.Is(err, repository.ErrGroupFull):
		return detail(http.StatusBadRequest, "Group is at maximum capacity")
	case errors.Is(err, repository.ErrAlreadyAdmin):
		return detail(http.StatusConflict, "User is already an admin of this group")
	case errors.Is(err, repository.ErrTxHashUsed):
		return detail(http.StatusConflict, "Transaction has already been used")
	case errors.Is(err, repository.ErrMemberHasPayments):
		return detail(http.StatusConflict, "Member has contributions")
	case errors.Is(err, repository.ErrConflict):
		return detail(http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrForbidden):
		return detail(http.StatusForbidden, "Forbidden")

	case errors.Is(err, chain.ErrDisabled):
		return detail(http.StatusServiceUnavailable, "Blockchain service unavailable")
	case errors.Is(err, chain.ErrInvalidAddress):
		return detail(http.StatusBadRequest, "Invalid wallet address")
	case errors.Is(err, chain.ErrInvalidTxHash):
		return detail(http.StatusBadRequest, "Invalid transaction hash")
	case errors.Is(err, chain.ErrTxPending):
		return detail(http.StatusBadRequest, "Transaction not found or not yet mined")
	case errors.Is(err, chain.ErrVerification):
		return detail(http.StatusBadRequest, err.Error())
	case errors.As(err, &chainErr):
		// Node failures and contract reverts both pass the message through.
		return detail(http.StatusInternalServerError, chainErr.Error())

	case errors.As(err, &svcErr):
		if svcErr.ClientError() && svcErr.Message != "" {
			return detail(http.StatusBadRequest, svcErr.Message)
		}
		return detail(http.StatusInternalServerError, svcErr.Error())
	}
	return err
}
