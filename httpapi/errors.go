package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"xdao.co/cadstore/model"
)

// msgNotFound is returned for every retrieval of an unknown or malformed CID.
const msgNotFound = "Invalid or not found CID"

func badRequest(msg string) error {
	return model.NewError(model.KindInvalidInput, msg)
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		return http.StatusBadRequest, err.Error()
	case model.KindInvalidCID, model.KindNotFound:
		return http.StatusNotFound, msgNotFound
	}
	if errors.Is(err, context.Canceled) {
		// Client went away; the status is never seen.
		return 499, "request canceled"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request error", "uri", c.Request().RequestURI, "kind", model.KindOf(err), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, model.ErrorResponse{Error: msg})
	}
	if err != nil {
		s.log.Error("write error response", "error", err)
	}
}
