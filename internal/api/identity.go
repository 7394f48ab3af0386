package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	HeaderUserID   = "x-oz-user-id"
	HeaderDevID    = "x-oz-dev-id"
	HeaderDeviceID = "X-OZ-Device-ID"

	userIDKey   = "user_id"
	deviceIDKey = "device_id"
)

// RequireIdentity rejects requests without a user identity header and stores
// the identity on the context.
func RequireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		userID := h.Get(HeaderUserID)
		if userID == "" {
			userID = h.Get(HeaderDevID)
		}
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, response{Code: http.StatusUnauthorized, Msg: "unauthorized"})
		}
		c.Set(userIDKey, userID)
		c.Set(deviceIDKey, h.Get(HeaderDeviceID))
		return next(c)
	}
}

// RequireDevice answers with a domain error when the device header is absent.
func RequireDevice(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if DeviceID(c) == "" {
			return fail(c, "Missing device ID")
		}
		return next(c)
	}
}

func UserID(c echo.Context) string {
	s, _ := c.Get(userIDKey).(string)
	return s
}

func DeviceID(c echo.Context) string {
	s, _ := c.Get(deviceIDKey).(string)
	return s
}
