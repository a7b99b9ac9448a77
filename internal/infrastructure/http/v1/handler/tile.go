package handler

import (
	"net/http"

	"github.com/escribano/mapcache/internal/service"
	"github.com/gin-gonic/gin"
)

// Tile serves every tile grammar: TMS paths, WMS GetMap and WMTS. The
// dispatcher does all parsing; the handler only moves the envelope.
func (h *Handler) Tile(c *gin.Context) {
	cond := service.Conditional{
		IfNoneMatch: c.GetHeader("If-None-Match"),
	}
	if ims := c.GetHeader("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil {
			cond.IfModifiedSince = t
		}
	}

	resp := h.service.Dispatch(c.Request.Context(), c.Request.URL.Path, c.Request.URL.Query(), cond)

	header := c.Writer.Header()
	for name, values := range resp.Headers {
		for _, v := range values {
			header.Add(name, v)
		}
	}

	if resp.Code == http.StatusNotModified {
		c.Status(resp.Code)
		return
	}

	c.Data(resp.Code, resp.Headers.Get("Content-Type"), resp.Data)
}
