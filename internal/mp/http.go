package mp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskcore/internal/objects"
	"taskcore/pkg/logx"
)

const (
	DirectivePath = "/mp/v1/directive"
	HealthPath    = "/mp/v1/healthz"

	maxBody = 64 << 10
)

// HTTPTransport posts messages to peer Servers.
type HTTPTransport struct {
	client *http.Client
	token  string

	mu    sync.RWMutex
	peers map[objects.Node]string // base URLs
}

func NewHTTPTransport(peers map[objects.Node]string, token string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cp := make(map[objects.Node]string, len(peers))
	for n, u := range peers {
		cp[n] = strings.TrimSuffix(u, "/")
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}, token: token, peers: cp}
}

func (t *HTTPTransport) SendDirective(ctx context.Context, node objects.Node, msg Message) (Message, error) {
	t.mu.RLock()
	base, ok := t.peers[node]
	t.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("mp: no address for node %d", node)
	}

	body, err := Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+DirectivePath, bytes.NewReader(body))
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Content-Type", ContentType)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if msg.CorrID != "" {
		req.Header.Set(middleware.RequestIDHeader, msg.CorrID)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return Message{}, err
	}
	if res.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("mp: node %d answered %s: %s", node, res.Status, strings.TrimSpace(string(raw)))
	}
	return Unmarshal(raw)
}

type ServerConfig struct {
	Listen       string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server accepts directives from peers and hands them to a Handler.
type Server struct {
	cfg     ServerConfig
	node    objects.Node
	handler Handler
	log     logx.Logger

	mu   sync.Mutex
	addr string
}

func NewServer(cfg ServerConfig, node objects.Node, h Handler, log logx.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Server{cfg: cfg, node: node, handler: h, log: log.With(logx.String("comp", "mp.server"))}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Post(DirectivePath, s.handleDirective)
	})
	return r
}

func (s *Server) handleDirective(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	in, err := Unmarshal(raw)
	if err != nil {
		s.log.Warn("bad directive message", logx.String("request_id", middleware.GetReqID(r.Context())), logx.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := Reply(r.Context(), s.node, s.handler, in)
	body, err := Marshal(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	_, _ = w.Write(body)
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// Addr is the bound listen address once Run is serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("mp: listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("mp server started", logx.String("addr", ln.Addr().String()), logx.Int("node", int(s.node)), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("mp server exited unexpectedly")
	}
	return err
}
