package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"

	"github.com/trellisplan/trellis/internal/claim"
	"github.com/trellisplan/trellis/internal/infer"
	"github.com/trellisplan/trellis/internal/scanner"
	"github.com/trellisplan/trellis/internal/trelliserr"
)

// ServerVersion is overridden at startup from the build version.
var ServerVersion = "0.0.0"

// Server serves planning operations over a Unix socket. The server
// holds no planning state between requests; every operation re-reads
// the filesystem.
type Server struct {
	socketPath string
	root       string

	scanner *scanner.Scanner
	claims  *claim.Engine
	kinds   *infer.Engine

	listener     net.Listener
	mu           sync.Mutex
	shutdown     bool
	shutdownChan chan struct{}
	stopOnce     sync.Once
	doneChan     chan struct{}
	readyChan    chan struct{}

	startTime time.Time

	maxConns      int
	activeConns   int32
	connSemaphore chan struct{}

	requestTimeout time.Duration
}

// Options tune server limits; zero values use defaults.
type Options struct {
	MaxConns       int
	RequestTimeout time.Duration
	CacheSize      int
}

// NewServer builds a server rooted at a project directory.
func NewServer(socketPath, root string, opts Options) (*Server, error) {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 64
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = infer.DefaultCacheSize
	}

	kinds, err := infer.NewEngine(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	sc := &scanner.Scanner{}
	return &Server{
		socketPath:     socketPath,
		root:           root,
		scanner:        sc,
		claims:         claim.NewEngine(sc),
		kinds:          kinds,
		shutdownChan:   make(chan struct{}),
		doneChan:       make(chan struct{}),
		readyChan:      make(chan struct{}),
		startTime:      time.Now(),
		maxConns:       opts.MaxConns,
		connSemaphore:  make(chan struct{}, opts.MaxConns),
		requestTimeout: opts.RequestTimeout,
	}, nil
}

// Start listens on the socket and serves until Stop. Blocks.
func (s *Server) Start() error {
	defer close(s.doneChan)

	if _, err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("preparing socket directory: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.readyChan)

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			// At capacity: refuse rather than queue so a stuck client
			// cannot starve the socket.
			s.writeResponse(conn, errorResponse(trelliserr.New(
				trelliserr.CodeIOFailure, "server at connection capacity; retry shortly")))
			_ = conn.Close()
			continue
		}

		wg.Add(1)
		atomic.AddInt32(&s.activeConns, 1)
		go func(c net.Conn) {
			defer func() {
				atomic.AddInt32(&s.activeConns, -1)
				<-s.connSemaphore
				_ = c.Close()
				wg.Done()
			}()
			s.handleConnection(c)
		}(conn)
	}
}

// Ready returns a channel closed once the listener is accepting.
func (s *Server) Ready() <-chan struct{} { return s.readyChan }

// Stop shuts the server down and waits for in-flight connections.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.mu.Unlock()
		close(s.shutdownChan)
		if listener != nil {
			_ = listener.Close()
		}
	})
	<-s.doneChan
	_ = CleanupSocketDir(s.socketPath)
}

// handleConnection serves newline-delimited JSON requests until the
// client disconnects or the deadline passes.
func (s *Server) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetDeadline(time.Now().Add(s.requestTimeout))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, errorResponse(trelliserr.New(
				trelliserr.CodeInvalidField, "malformed request JSON")))
			continue
		}

		resp := s.handleRequest(&req)
		if !s.writeResponse(conn, resp) {
			return
		}
		if req.Operation == OpShutdown {
			go s.Stop()
			return
		}
	}
}

// writeResponse sanitizes and writes one response line.
func (s *Server) writeResponse(conn net.Conn, resp Response) bool {
	if resp.Error != nil {
		resp.Error.Message = trelliserr.Sanitize(resp.Error.Message)
		for k, v := range resp.Error.Context {
			resp.Error.Context[k] = trelliserr.Sanitize(v)
		}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"success":false,"error":{"code":"IOFailure","message":"response serialization failed"}}`)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return false
	}
	return true
}

// errorResponse converts any error into the wire error shape. Uncoded
// errors collapse to IOFailure with a sanitized message.
func errorResponse(err error) Response {
	te := trelliserr.AsError(err)
	payload := &ErrorPayload{
		Code:    string(te.Code),
		Message: te.Message,
	}
	if len(te.Context) > 0 {
		payload.Context = make(map[string]string, len(te.Context))
		for k, v := range te.Context {
			payload.Context[k] = v
		}
	}
	return Response{Success: false, Error: payload}
}

func dataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(trelliserr.Wrap(trelliserr.CodeIOFailure, err, "cannot encode response"))
	}
	return Response{Success: true, Data: data}
}

// checkVersionCompatibility gates requests on the client's semver. An
// empty or non-semver client version is allowed through; a client
// newer than the server is refused so stale servers never answer with
// old schema assumptions.
func (s *Server) checkVersionCompatibility(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}
	serverVer := ServerVersion
	if !strings.HasPrefix(serverVer, "v") {
		serverVer = "v" + serverVer
	}
	clientVer := clientVersion
	if !strings.HasPrefix(clientVer, "v") {
		clientVer = "v" + clientVer
	}
	if !semver.IsValid(serverVer) || !semver.IsValid(clientVer) {
		return nil
	}
	if semver.Major(serverVer) != semver.Major(clientVer) {
		return fmt.Errorf("incompatible major versions: client %s, server %s; align the two before retrying",
			clientVersion, ServerVersion)
	}
	if semver.Compare(serverVer, clientVer) < 0 {
		return fmt.Errorf("server %s is older than client %s; restart the server with a matching build",
			ServerVersion, clientVersion)
	}
	return nil
}

func (s *Server) handleRequest(req *Request) Response {
	// Ping and health stay answerable across version skew so clients
	// can diagnose it.
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := s.checkVersionCompatibility(req.ClientVersion); err != nil {
			return errorResponse(trelliserr.Wrap(trelliserr.CodeInvalidField, err, "%s", err.Error()))
		}
	}

	switch req.Operation {
	case OpPing:
		return s.handlePing(req)
	case OpHealth:
		return s.handleHealth(req)
	case OpShutdown:
		return dataResponse(map[string]string{"message": "shutting down"})
	case OpCreateObject:
		return s.handleCreateObject(req)
	case OpGetObject:
		return s.handleGetObject(req)
	case OpUpdateObject:
		return s.handleUpdateObject(req)
	case OpDeleteObject:
		return s.handleDeleteObject(req)
	case OpClaimNextTask:
		return s.handleClaimNextTask(req)
	case OpCompleteTask:
		return s.handleCompleteTask(req)
	case OpGetNextReviewableTask:
		return s.handleGetNextReviewableTask(req)
	case OpListBacklog:
		return s.handleListBacklog(req)
	case OpGetCompletedObjects:
		return s.handleGetCompletedObjects(req)
	default:
		return errorResponse(trelliserr.New(trelliserr.CodeInvalidField,
			"unknown operation %q", req.Operation))
	}
}

// reqCtx bounds a handler's filesystem work by the request timeout.
func (s *Server) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.requestTimeout)
}

func (s *Server) handlePing(_ *Request) Response {
	return dataResponse(PingResponse{Message: "pong", Version: ServerVersion})
}

func (s *Server) handleHealth(req *Request) Response {
	hits, misses, _ := s.kinds.Stats()
	return dataResponse(HealthResponse{
		Status:        "healthy",
		Version:       ServerVersion,
		ClientVersion: req.ClientVersion,
		Compatible:    s.checkVersionCompatibility(req.ClientVersion) == nil,
		Uptime:        time.Since(s.startTime).Seconds(),
		ActiveConns:   atomic.LoadInt32(&s.activeConns),
		MaxConns:      s.maxConns,
		CacheHits:     hits,
		CacheMisses:   misses,
	})
}
