package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"moneymind/internal/daemon"
	"moneymind/internal/logging"
	"moneymind/internal/netmon"
	"moneymind/internal/queue"
	"moneymind/internal/upload"
)

const serviceName = "MoneyMind"

// ServerOption customizes the IPC server.
type ServerOption func(*service)

// WithStopHandler runs fn after a Stop request has stopped the daemon, so the
// hosting process can exit.
func WithStopHandler(fn func()) ServerOption {
	return func(s *service) { s.onStop = fn }
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	svc := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	for _, opt := range opts {
		opt(svc)
	}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun moneymind stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
	onStop func()
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.onStop != nil {
		s.onStop()
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	*resp = StatusResponse{
		Running:        status.Running,
		PID:            status.PID,
		StartedAt:      status.StartedAt,
		Endpoint:       status.Endpoint,
		LockPath:       status.LockFilePath,
		QueueDBPath:    status.QueueDBPath,
		APIAddress:     s.daemon.APIAddress(),
		Network:        status.Network,
		Advice:         status.Advice,
		Stats:          status.Stats,
		PendingRetries: status.PendingRetries,
		StatsError:     status.StatsError,
	}
	return nil
}

func (s *service) QueueStats(_ QueueStatsRequest, resp *QueueStatsResponse) error {
	stats, err := s.daemon.Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Stats = stats
	resp.PendingRetries = s.daemon.Status(s.ctx).PendingRetries
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	var status queue.Status
	if req.Status != "" {
		parsed, err := queue.ParseStatus(req.Status)
		if err != nil {
			return err
		}
		status = parsed
	}
	records, err := s.daemon.List(s.ctx, status)
	if err != nil {
		return err
	}
	resp.Items = make([]queue.Record, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		item := *rec
		item.Payload = nil
		resp.Items = append(resp.Items, item)
	}
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	s.logger.Debug("queue clear failed requested")
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("failed uploads cleared",
		logging.String(logging.FieldEventType, "queue_clear_failed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) Sync(_ SyncRequest, resp *SyncResponse) error {
	result, err := s.daemon.Sync(s.ctx)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	if len(req.Files) == 0 {
		return errors.New("submit requires at least one file")
	}
	files := make([]upload.File, 0, len(req.Files))
	for _, file := range req.Files {
		files = append(files, upload.File{Name: file.Name, MimeType: file.MimeType, Data: file.Data})
	}
	s.logger.Debug("submit requested", logging.Int("file_count", len(files)))
	resp.Results = s.daemon.Submit(s.ctx, files, req.OwnerID, req.Options)
	return nil
}

func (s *service) ReportNetwork(req NetworkReportRequest, resp *NetworkReportResponse) error {
	s.daemon.ReportNetwork(netmon.Signal{Online: req.Online, EffectiveType: req.EffectiveType})
	resp.Network = s.daemon.Status(s.ctx).Network
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	resp.DatabaseHealth = health
	if err != nil && health.Error == "" {
		return err
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
