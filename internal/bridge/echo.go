package bridge

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MountEcho attaches the bridge to an existing echo server, for hosts that
// already embed one. The gin handler does the routing; echo only carries it.
func (b *Bridge) MountEcho(e *echo.Echo) {
	h := echo.WrapHandler(b.Handler())
	if b.basePath == "" {
		e.Any("/*", h)
		return
	}
	e.Any(b.basePath, h)
	e.Any(b.basePath+"/*", h)
}

// NewEchoServer builds a standalone echo server hosting the bridge, with
// request logging and panic recovery.
func NewEchoServer(b *Bridge) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	b.MountEcho(e)
	return e
}
