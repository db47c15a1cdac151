// Package api serves read-only controller state over HTTP and exposes the
// Prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/newtflow/pkg/controller"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/util"
	"github.com/newtron-network/newtflow/pkg/version"
)

// DeviceView is one entry of GET /api/v1/devices.
type DeviceView struct {
	DPID              string      `json:"dpid"`
	Name              string      `json:"name"`
	Role              fabric.Role `json:"role"`
	ConnectedAt       time.Time   `json:"connected_at"`
	Rules             int         `json:"rules"`
	Learned           int         `json:"learned"`
	FailoverInstalled bool        `json:"failover_installed"`
}

// MACEntry is one learned address.
type MACEntry struct {
	MAC  string `json:"mac"`
	Port uint32 `json:"port"`
}

// PortView is one port record.
type PortView struct {
	PortNo   uint32 `json:"port_no"`
	Name     string `json:"name"`
	HWAddr   string `json:"hw_addr"`
	Config   uint32 `json:"config"`
	LinkDown bool   `json:"link_down"`
}

// PathView is the response of GET /api/v1/path.
type PathView struct {
	Mode fabric.HAMode `json:"mode"`
	controller.PathState
}

// Server is the HTTP front of a controller.
type Server struct {
	ctrl   *controller.Controller
	cfg    fabric.APIConfig
	router *mux.Router
}

// NewServer builds the router for ctrl.
func NewServer(ctrl *controller.Controller, cfg fabric.APIConfig) *Server {
	s := &Server{ctrl: ctrl, cfg: cfg, router: mux.NewRouter()}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the API routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.cfg.Metrics {
		router.Handle("/metrics", promhttp.HandlerFor(s.ctrl.Gatherer(), promhttp.HandlerOpts{}))
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/devices", s.handleDevices).Methods("GET")
	v1.HandleFunc("/devices/{dpid}/macs", s.handleMACs).Methods("GET")
	v1.HandleFunc("/devices/{dpid}/flows", s.handleFlows).Methods("GET")
	v1.HandleFunc("/devices/{dpid}/ports", s.handlePorts).Methods("GET")
	v1.HandleFunc("/path", s.handlePath).Methods("GET")
	v1.HandleFunc("/portsync", s.handlePortSync).Methods("GET")
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.WithComponent("api").Infof("serving on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": s.ctrl.Devices().Len(),
		"version": version.Version,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs := s.ctrl.Devices().List()
	out := make([]DeviceView, 0, len(devs))
	for _, d := range devs {
		out = append(out, DeviceView{
			DPID:              util.FormatDPID(d.DPID),
			Name:              d.Name,
			Role:              d.Role,
			ConnectedAt:       d.ConnectedAt,
			Rules:             s.ctrl.Flows().Count(d.DPID),
			Learned:           len(s.ctrl.Learning().Table(d.DPID)),
			FailoverInstalled: s.ctrl.Failover().Installed(d.DPID),
		})
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleMACs(w http.ResponseWriter, r *http.Request) {
	dpid, ok := s.device(w, r)
	if !ok {
		return
	}
	table := s.ctrl.Learning().Table(dpid)
	out := make([]MACEntry, 0, len(table))
	for mac, port := range table {
		out = append(out, MACEntry{MAC: mac, Port: port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	dpid, ok := s.device(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, s.ctrl.Flows().Rules(dpid))
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	dpid, ok := s.device(w, r)
	if !ok {
		return
	}
	records := s.ctrl.PortSync().PortRecords(dpid)
	out := make([]PortView, 0, len(records))
	for _, pd := range records {
		pv := PortView{PortNo: pd.PortNo, Name: pd.Name, Config: pd.Config, LinkDown: pd.LinkDown()}
		if pd.HWAddr != nil {
			pv.HWAddr = pd.HWAddr.String()
		}
		out = append(out, pv)
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, PathView{
		Mode:      s.ctrl.Config().HA.Mode,
		PathState: s.ctrl.PathSwitch().State(),
	})
}

func (s *Server) handlePortSync(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.ctrl.PortSync().States())
}

// device resolves the {dpid} route variable to a registered device.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	dpid, err := ParseDPID(mux.Vars(r)["dpid"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if _, ok := s.ctrl.Devices().Get(dpid); !ok {
		respondWithError(w, http.StatusNotFound, "device "+util.FormatDPID(dpid)+" not connected")
		return 0, false
	}
	return dpid, true
}

// ParseDPID accepts a 16-digit hex datapath id, a 0x-prefixed hex value or
// a decimal number.
func ParseDPID(s string) (uint64, error) {
	if len(s) == 16 {
		return strconv.ParseUint(s, 16, 64)
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
