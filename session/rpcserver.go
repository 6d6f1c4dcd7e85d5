package session

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/opifices/opit/internal/logger"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/rcrowley/go-metrics"
)

type rpcServer struct {
	rpcServer  *rpc.Server
	httpServer http.Server
	listener   net.Listener
	log        logger.Logger
	doneC      chan struct{}
}

func newRPCServer(ses *Session) *rpcServer {
	h := &rpcHandler{session: ses}
	srv := rpc.NewServer()
	_ = srv.RegisterName("Session", h)

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		metrics.WriteJSONOnce(ses.metrics.registry, w)
	})
	mux.Handle("/", jsonrpc2.HTTPHandler(srv))

	return &rpcServer{
		rpcServer: srv,
		httpServer: http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log:   logger.New("rpc server"),
		doneC: make(chan struct{}),
	}
}

func (s *rpcServer) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.log.Infoln("RPC server is listening on", listener.Addr().String())

	go func() {
		defer close(s.doneC)
		err := s.httpServer.Serve(listener)
		if err == http.ErrServerClosed {
			return
		}
		s.log.Errorln("RPC server stopped:", err.Error())
	}()

	return nil
}

// Addr returns the address of the listener.
func (s *rpcServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *rpcServer) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	<-s.doneC
	return err
}
