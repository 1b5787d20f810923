// Package fakes3 is an in-process S3 endpoint for tests and local runs. It
// serves virtual-hosted buckets from memory, checks legacy signatures and
// Content-MD5, and answers ListObjects (v1) and single-object requests.
package fakes3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BobDickinson/corona-s3/internal/auth"
	s3err "github.com/BobDickinson/corona-s3/internal/errors"
	"github.com/BobDickinson/corona-s3/internal/xmlutil"
)

// DefaultDomain is the endpoint suffix buckets are addressed under.
const DefaultDomain = "s3.amazonaws.com"

// Server is the fake endpoint.
type Server struct {
	domain string
	signer *auth.Signer
	owner  xmlutil.Owner
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	buckets map[string]*store

	delay    atomic.Int64
	requests atomic.Int64

	router     chi.Router
	service    chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDomain sets the endpoint suffix: a request for Host
// "photos.<domain>" addresses bucket "photos".
func WithDomain(domain string) Option {
	return func(s *Server) {
		s.domain = domain
	}
}

// WithCredentials enables signature checking. Without it every request is
// accepted unsigned.
func WithCredentials(accessKey, secretKey string) Option {
	return func(s *Server) {
		s.signer = auth.NewSigner(accessKey, secretKey)
		s.owner = xmlutil.Owner{ID: accessKey, DisplayName: accessKey}
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock sets the time source used for Last-Modified. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// New creates a Server with no buckets.
func New(opts ...Option) *Server {
	s := &Server{
		domain:  DefaultDomain,
		owner:   xmlutil.Owner{ID: "corona-s3", DisplayName: "corona-s3"},
		clock:   time.Now,
		buckets: make(map[string]*store),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.router = s.routes()
	s.service = s.serviceRoutes()
	return s
}

// Domain returns the endpoint suffix.
func (s *Server) Domain() string {
	return s.domain
}

// CreateBucket adds an empty bucket. It is a no-op if the bucket exists.
func (s *Server) CreateBucket(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		s.buckets[name] = newStore()
	}
}

// PutObject stores data under bucket/key directly, creating the bucket if
// needed.
func (s *Server) PutObject(bucket, key string, data []byte, contentType string) {
	s.CreateBucket(bucket)
	if contentType == "" {
		contentType = defaultContentType
	}
	s.bucket(bucket).put(Object{
		Key:          key,
		Data:         append([]byte{}, data...),
		ETag:         computeETag(data),
		LastModified: s.clock().UTC(),
		ContentType:  contentType,
	})
}

// Object returns the stored object at bucket/key.
func (s *Server) Object(bucket, key string) (Object, bool) {
	st := s.bucket(bucket)
	if st == nil {
		return Object{}, false
	}
	return st.get(key)
}

// Len returns the number of objects in bucket.
func (s *Server) Len(bucket string) int {
	st := s.bucket(bucket)
	if st == nil {
		return 0
	}
	return st.len()
}

// SetDelay holds every response for d before handling it. Zero disables.
func (s *Server) SetDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) bucket(name string) *store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[name]
}

// Handler returns the endpoint with its middleware chain:
// metricsMiddleware -> commonHeaders -> delay -> bucket/auth -> router.
// Requests for the bare domain go to the service routes instead of a bucket.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = s.authenticate(handler)
	handler = s.resolveBucket(handler)
	handler = s.serviceHost(handler)
	handler = s.hold(handler)
	handler = commonHeaders(handler)
	handler = s.metricsMiddleware(handler)
	return handler
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr has port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("fake endpoint stopped", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown gracefully stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Close stops a server started with Start immediately.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Buckets int    `json:"buckets" doc:"Number of buckets served"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// serviceRoutes serves the bare domain: /health (documented through Huma
// at /openapi and /docs) and /metrics.
func (s *Server) serviceRoutes() chi.Router {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("corona-s3 fake endpoint", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the fake endpoint.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		s.mu.RLock()
		n := len(s.buckets)
		s.mu.RUnlock()
		return &HealthOutput{Body: HealthBody{Status: "ok", Buckets: n}}, nil
	})

	router.Handle("/metrics", promhttp.Handler())
	return router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.listObjects)
	r.Head("/", s.headBucket)
	r.Get("/*", s.getObject)
	r.Head("/*", s.headObject)
	r.Put("/*", s.putObject)
	r.Delete("/*", s.deleteObject)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
	})
	return r
}
