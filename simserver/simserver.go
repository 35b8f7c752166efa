package simserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sandeepkv93/solarsim/bodyintegrator"
	"github.com/sandeepkv93/solarsim/simdriver"
	"github.com/sandeepkv93/solarsim/solarscenarios"
)

// Request is a client-to-server message. Type selects the operation:
// "init" carries bodies+sun, "tick" carries dt, "scenario" carries the
// name of a built-in scenario.
type Request struct {
	Type   string                `json:"type"`
	Bodies []bodyintegrator.Body `json:"bodies,omitempty"`
	Sun    *bodyintegrator.Body  `json:"sun,omitempty"`
	Dt     float64               `json:"dt,omitempty"`
	Name   string                `json:"name,omitempty"`
}

// Response is a server-to-client message. "update" responses carry the
// per-body kinematics; "ack" responses to a scenario load additionally
// carry the seeded bodies so the client can build its scene.
type Response struct {
	Type   string                      `json:"type"`
	Bodies []bodyintegrator.BodyUpdate `json:"bodies,omitempty"`
	Seeded []bodyintegrator.Body       `json:"seeded,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

// Config holds the server settings. TicksPerSecond bounds how fast a
// single client may inject simulated time; ticks beyond the limit are
// silently dropped, mirroring the integrator's own precondition
// handling.
type Config struct {
	Addr           string
	MetricsAddr    string
	Simulation     bodyintegrator.Config
	TicksPerSecond float64
	TickBurst      int
	PingInterval   time.Duration
	SendQueueSize  int
}

// DefaultConfig returns settings suitable for a 60 fps visualization
// client.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		MetricsAddr:    ":9090",
		Simulation:     bodyintegrator.DefaultConfig(),
		TicksPerSecond: 120,
		TickBurst:      30,
		PingInterval:   30 * time.Second,
		SendQueueSize:  16,
	}
}

// Server hosts the simulation websocket endpoint and the metrics
// endpoint. Every connection gets its own integrator and driver, so
// clients never share simulation state.
type Server struct {
	config        Config
	metrics       *MetricsCollector
	upgrader      websocket.Upgrader
	httpServer    *http.Server
	metricsServer *http.Server
	wg            sync.WaitGroup
}

func NewServer(config Config) *Server {
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultConfig().SendQueueSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultConfig().PingInterval
	}
	return &Server{
		config:  config,
		metrics: NewMetricsCollector(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Metrics exposes the server's collector, mainly for tests.
func (s *Server) Metrics() *MetricsCollector {
	return s.metrics
}

// Handler returns the simulation endpoint mux. Usable directly with
// httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/simulate", s.handleSimulate)
	return mux
}

// Start launches the simulation and metrics listeners.
func (s *Server) Start() {
	s.httpServer = &http.Server{Addr: s.config.Addr, Handler: s.Handler()}
	s.metricsServer = &http.Server{Addr: s.config.MetricsAddr, Handler: s.metrics.Handler()}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		log.Printf("simserver: listening on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("simserver: http server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("simserver: metrics server error: %v", err)
		}
	}()
}

// Shutdown stops both listeners and waits for them to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	var first error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	s.wg.Wait()
	return first
}

type session struct {
	conn      *websocket.Conn
	driver    *simdriver.Driver
	limiter   *rate.Limiter
	sendQueue chan Response
	server    *Server
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("simserver: upgrade failed: %v", err)
		return
	}

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	integrator := bodyintegrator.New(s.config.Simulation)
	driver := simdriver.New(integrator, simdriver.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := driver.Start(ctx); err != nil {
		conn.Close()
		return
	}
	defer driver.Stop()

	var limiter *rate.Limiter
	if s.config.TicksPerSecond > 0 {
		burst := s.config.TickBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.config.TicksPerSecond), burst)
	}

	sess := &session{
		conn:      conn,
		driver:    driver,
		limiter:   limiter,
		sendQueue: make(chan Response, s.config.SendQueueSize),
		server:    s,
		closed:    make(chan struct{}),
	}

	go sess.writeLoop()
	go sess.forwardUpdates()
	sess.readLoop()
	sess.close()
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.closed)
		sess.conn.Close()
	})
}

// readLoop decodes client requests and dispatches them until the
// connection drops.
func (sess *session) readLoop() {
	for {
		var req Request
		if err := sess.conn.ReadJSON(&req); err != nil {
			return
		}
		sess.handleRequest(req)
	}
}

func (sess *session) handleRequest(req Request) {
	switch req.Type {
	case "init":
		if req.Sun == nil {
			sess.reply(Response{Type: "error", Error: "init requires a sun"})
			return
		}
		if err := sess.driver.Init(req.Bodies, *req.Sun); err != nil {
			sess.reply(Response{Type: "error", Error: err.Error()})
			return
		}
		sess.reply(Response{Type: "ack"})

	case "scenario":
		scenario, err := solarscenarios.ByName(sess.server.config.Simulation, req.Name)
		if err != nil {
			sess.reply(Response{Type: "error", Error: err.Error()})
			return
		}
		if err := sess.driver.Init(scenario.Bodies, scenario.Attractor); err != nil {
			sess.reply(Response{Type: "error", Error: err.Error()})
			return
		}
		sess.reply(Response{Type: "ack", Seeded: scenario.Bodies})

	case "tick":
		if sess.limiter != nil && !sess.limiter.Allow() {
			sess.server.metrics.RecordDroppedTick("rate_limited")
			return
		}
		switch err := sess.driver.RequestTick(req.Dt); {
		case err == nil:
		case errors.Is(err, simdriver.ErrTickPending):
			// The client is ahead of the simulation; it retries on
			// its next frame.
			sess.server.metrics.RecordDroppedTick("pending")
		case errors.Is(err, simdriver.ErrBusy):
			sess.server.metrics.RecordDroppedTick("busy")
		default:
			sess.server.metrics.RecordDroppedTick("stopped")
		}

	default:
		sess.reply(Response{Type: "error", Error: "unknown request type " + req.Type})
	}
}

// forwardUpdates relays completed ticks from the driver to the client.
func (sess *session) forwardUpdates() {
	for {
		select {
		case <-sess.closed:
			return
		case result := <-sess.driver.Updates():
			sess.server.metrics.RecordTick(len(result.Updates), result.Elapsed)
			sess.reply(Response{Type: "update", Bodies: result.Updates})
		}
	}
}

func (sess *session) reply(resp Response) {
	select {
	case sess.sendQueue <- resp:
	case <-sess.closed:
	}
}

// writeLoop is the only goroutine writing to the websocket. Gorilla
// connections allow a single concurrent writer.
func (sess *session) writeLoop() {
	ticker := time.NewTicker(sess.server.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.closed:
			return
		case resp := <-sess.sendQueue:
			if err := sess.conn.WriteJSON(resp); err != nil {
				sess.close()
				return
			}
		case <-ticker.C:
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.close()
				return
			}
		}
	}
}
