package server

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed page.html
var indexPage []byte

// registerPage serves the single-page UI.
func registerPage(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.HTMLBlob(http.StatusOK, indexPage)
	})
}
