// Package hostapi exposes a session over HTTP so a host that is not linked
// into the process can read and write parameters.
package hostapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracker-bridge/bridge"
	"tracker-bridge/params"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ParamView is one parameter with its current value
type ParamView struct {
	Address params.Address `json:"address"`
	Name    string         `json:"name"`
	Unit    string         `json:"unit"`
	Min     float32        `json:"min"`
	Max     float32        `json:"max"`
	Default float32        `json:"default"`
	Value   float32        `json:"value"`
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Session        string `json:"session"`
	State          string `json:"state"`
	Device         string `json:"device,omitempty"`
	Fallback       bool   `json:"fallback"`
	Dropped        uint64 `json:"dropped"`
	InboundDropped uint64 `json:"inboundDropped"`
	Reconnects     uint64 `json:"reconnects"`
	Pending        int    `json:"pending"`
}

// SetRequest is the body of PUT /params/:address
type SetRequest struct {
	Value *float32 `json:"value" binding:"required"`
}

// SetResponse reports the stored (clamped) value
type SetResponse struct {
	Value   float32 `json:"value"`
	Changed bool    `json:"changed"`
}

// Handlers serves one session
type Handlers struct {
	session *bridge.Session
	log     *slog.Logger
}

// NewHandlers creates handlers for s
func NewHandlers(s *bridge.Session, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handlers{session: s, log: log}
}

// RegisterRoutes registers the control routes on rg.
//
//	GET  /status
//	GET  /params
//	GET  /params/:address
//	PUT  /params/:address
//	POST /reconnect
//	GET  /metrics
func RegisterRoutes(rg gin.IRoutes, h *Handlers) {
	rg.GET("/status", h.HandleStatus)
	rg.GET("/params", h.HandleList)
	rg.GET("/params/:address", h.HandleGet)
	rg.PUT("/params/:address", h.HandleSet)
	rg.POST("/reconnect", h.HandleReconnect)
	rg.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.session.Metrics().Registry, promhttp.HandlerOpts{})))
}

// NewRouter builds an engine with recovery and the control routes
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	return r
}

func (h *Handlers) HandleStatus(c *gin.Context) {
	st := h.session.Stats()
	c.JSON(http.StatusOK, StatusResponse{
		Session:        h.session.ID,
		State:          st.Connection.State.String(),
		Device:         st.Connection.Device,
		Fallback:       st.Connection.Fallback,
		Dropped:        st.Dropped,
		InboundDropped: st.InboundDropped,
		Reconnects:     st.Reconnects,
		Pending:        st.Pending,
	})
}

func (h *Handlers) HandleList(c *gin.Context) {
	all := h.session.Catalog().All()
	out := make([]ParamView, 0, len(all))
	for _, p := range all {
		out = append(out, h.view(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleGet(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(p))
}

func (h *Handlers) HandleSet(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	changed := h.session.SetParameterValue(p.Address, *req.Value)
	c.JSON(http.StatusOK, SetResponse{
		Value:   h.session.GetParameterValue(p.Address),
		Changed: changed,
	})
}

func (h *Handlers) HandleReconnect(c *gin.Context) {
	if !h.session.Reconnect() {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "search already in progress",
			Code:  "SEARCHING",
		})
		return
	}
	c.Status(http.StatusAccepted)
}

// lookup resolves :address as a number or a parameter name
func (h *Handlers) lookup(c *gin.Context) (params.Parameter, bool) {
	raw := c.Param("address")
	cat := h.session.Catalog()

	addr, found := cat.ByName(raw)
	if !found {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err == nil {
			addr, found = params.Address(n), true
		}
	}
	if found {
		if p, ok := cat.Lookup(addr); ok {
			return p, true
		}
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: "unknown parameter " + strconv.Quote(raw),
		Code:  "NOT_FOUND",
	})
	return params.Parameter{}, false
}

func (h *Handlers) view(p params.Parameter) ParamView {
	return ParamView{
		Address: p.Address,
		Name:    p.Name,
		Unit:    p.Unit.String(),
		Min:     p.Min,
		Max:     p.Max,
		Default: p.Default,
		Value:   h.session.GetParameterValue(p.Address),
	}
}

// Serve runs the API on addr until ctx is done
func Serve(ctx context.Context, addr string, h *Handlers) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		h.log.Info("control api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
