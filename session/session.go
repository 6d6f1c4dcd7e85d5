// Package session drives the piece scheduler of a single download.
//
// A Session runs two loops. The tick loop asks the scheduler which pieces to request and passes them to the Swarm.
// The status loop receives completed pieces, calculates transfer rates and feeds peer count and progress
// back to the scheduler and to the optional advisor. Statistics are saved to a Bolt database periodically
// and the session can be controlled over JSON-RPC.
package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/opifices/opit/internal/advisor"
	"github.com/opifices/opit/internal/logger"
	"github.com/opifices/opit/internal/piecescheduler"
	"github.com/opifices/opit/internal/statsdb"
	"github.com/opifices/opit/internal/worker"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/afero"
)

// Session downloads the content of a Swarm.
type Session struct {
	id        string
	config    Config
	swarm     Swarm
	scheduler *piecescheduler.Scheduler
	advisor   *advisor.Guard
	db        *statsdb.DB
	rpc       *rpcServer
	metrics   *sessionMetrics
	log       logger.Logger
	now       func() time.Time
	createdAt time.Time

	mStatus      sync.RWMutex
	status       Status
	lastTransfer Transfer
	lastStatusAt time.Time

	completeC chan struct{}
	closeOnce sync.Once
	workers   worker.Workers
}

// Option changes the default dependencies of a Session.
type Option func(*options)

type options struct {
	advisor          advisor.Advisor
	fs               afero.Fs
	now              func() time.Time
	schedulerOptions []piecescheduler.Option
}

// WithAdvisor sets the advisor that is notified on every status update. Overrides Config.AdvisorScript.
func WithAdvisor(a advisor.Advisor) Option {
	return func(o *options) { o.advisor = a }
}

// WithFs sets the filesystem that the advisor script is read from.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithClock sets the function used to read current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSchedulerOptions passes options to the piece scheduler.
func WithSchedulerOptions(opts ...piecescheduler.Option) Option {
	return func(o *options) { o.schedulerOptions = append(o.schedulerOptions, opts...) }
}

// New creates a session for swarm and starts its loops. Close must be called to stop it.
func New(cfg Config, swarm Swarm, opts ...Option) (*Session, error) {
	if swarm == nil {
		return nil, errors.New("nil swarm")
	}
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	o := options{
		fs:  afero.NewOsFs(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	u, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	id := u.String()
	l := logger.New("session " + id[:8])

	info := swarm.Info()
	if cfg.Scheduler.NumPieces == 0 {
		cfg.Scheduler.NumPieces = info.NumPieces
	}
	registry := metrics.NewRegistry()
	schedulerOptions := append([]piecescheduler.Option{
		piecescheduler.WithMetricsRegistry(registry),
		piecescheduler.WithClock(o.now),
	}, o.schedulerOptions...)
	sched, err := piecescheduler.New(cfg.Scheduler, schedulerOptions...)
	if err != nil {
		return nil, err
	}

	var db *statsdb.DB
	if cfg.Database != "" {
		cfg.Database, err = homedir.Expand(cfg.Database)
		if err != nil {
			sched.Close()
			return nil, err
		}
		db, err = statsdb.Open(cfg.Database)
		if err != nil {
			sched.Close()
			return nil, err
		}
	}

	a := o.advisor
	if a == nil && cfg.AdvisorScript != "" {
		cfg.AdvisorScript, err = homedir.Expand(cfg.AdvisorScript)
		if err != nil {
			sched.Close()
			if db != nil {
				db.Close()
			}
			return nil, err
		}
		a = advisor.NewScript(o.fs, cfg.AdvisorScript, cfg.AdvisorTimeout)
	}
	if a == nil {
		a = advisor.Nop{}
	}

	now := o.now()
	s := &Session{
		id:           id,
		config:       cfg,
		swarm:        swarm,
		scheduler:    sched,
		advisor:      advisor.NewGuard(a, cfg.AdvisorRate, l),
		db:           db,
		log:          l,
		now:          o.now,
		createdAt:    now,
		lastStatusAt: now,
		completeC:    make(chan struct{}),
	}
	s.status = Status{
		ID:              id,
		Name:            info.Name,
		State:           stateOf(info.NumPieces, 0),
		Mode:            sched.Mode().String(),
		Peers:           swarm.NumPeers(),
		Seeders:         swarm.NumSeeders(),
		AvailablePieces: swarm.AvailablePieces(),
		ETA:             formatETA(0, 0, false),
		NumPieces:       info.NumPieces,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	s.initMetrics(registry)
	if cfg.RPCEnabled {
		s.rpc = newRPCServer(s)
		err = s.rpc.Start(cfg.RPCHost, cfg.RPCPort)
		if err != nil {
			s.metrics.Close()
			sched.Close()
			if db != nil {
				db.Close()
			}
			return nil, err
		}
	}
	s.log.Infof("session started for %q with %d pieces", info.Name, info.NumPieces)
	s.workers.StartTicker(cfg.TickInterval, s.tick)
	s.workers.Start(worker.Func(s.statusLoop))
	if db != nil {
		s.workers.StartTicker(cfg.StatsWriteInterval, s.writeStats)
	}
	return s, nil
}

// ID is a UUID that identifies the session in the stats database.
func (s *Session) ID() string {
	return s.id
}

// Scheduler returns the piece scheduler of the session.
func (s *Session) Scheduler() *piecescheduler.Scheduler {
	return s.scheduler
}

// Status returns the status calculated on the last status interval.
func (s *Session) Status() Status {
	s.mStatus.RLock()
	defer s.mStatus.RUnlock()
	return s.status
}

// Done returns a channel that is closed when all pieces are downloaded.
func (s *Session) Done() <-chan struct{} {
	return s.completeC
}

// SetAggressive turns aggressive mode of the scheduler on or off.
func (s *Session) SetAggressive(enabled bool) {
	s.scheduler.SetAggressive(enabled)
}

// AdvisorStats returns the counters of advisor calls.
func (s *Session) AdvisorStats() advisor.GuardStats {
	return s.advisor.Stats()
}

// RPCAddr returns the address that the RPC server listens on. Empty if RPC is disabled.
func (s *Session) RPCAddr() string {
	if s.rpc == nil {
		return ""
	}
	return s.rpc.Addr()
}

// Close stops the loops, saves the final statistics and releases resources.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.workers.Stop()

		if s.rpc != nil {
			err2 := s.rpc.Stop(s.config.RPCShutdownTimeout)
			if err2 != nil {
				s.log.Errorln("cannot stop RPC server:", err2.Error())
			}
		}
		s.metrics.Close()
		s.scheduler.Close()
		if s.db != nil {
			s.writeStats()
			err = s.db.Close()
		}
		s.log.Infoln("session closed")
	})
	return err
}

func (s *Session) tick() {
	if s.swarm.Info().NumPieces == 0 {
		return
	}
	pieces, err := s.scheduler.SelectPieces(s.swarm.Availability(), s.swarm.Rarity())
	if err != nil {
		s.log.Errorln("cannot select pieces:", err.Error())
		return
	}
	if len(pieces) > 0 {
		s.log.Debugf("requesting %d pieces in %s mode", len(pieces), s.scheduler.Mode())
		s.swarm.Request(pieces)
	}
}

func (s *Session) statusLoop(stopC chan struct{}) {
	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case i := <-s.swarm.Completions():
			s.handlePieceCompleted(i)
		case <-ticker.C:
			s.updateStatus()
		case <-stopC:
			return
		}
	}
}

func (s *Session) handlePieceCompleted(i uint32) {
	err := s.scheduler.PieceCompleted(i)
	if err != nil {
		s.log.Errorln("invalid completion:", err.Error())
		return
	}
	s.log.Debugf("piece #%d downloaded", i)
}

func (s *Session) updateStatus() {
	now := s.now()
	info := s.swarm.Info()
	tr := s.swarm.Transfer()
	peers := s.swarm.NumPeers()
	seeders := s.swarm.NumSeeders()
	available := s.swarm.AvailablePieces()

	s.mStatus.Lock()
	elapsed := now.Sub(s.lastStatusAt)
	downloadSpeed := rate(s.lastTransfer.Downloaded, tr.Downloaded, elapsed)
	uploadSpeed := rate(s.lastTransfer.Uploaded, tr.Uploaded, elapsed)
	s.metrics.SpeedDownload.Mark(max(0, tr.Downloaded-s.lastTransfer.Downloaded))
	s.metrics.SpeedUpload.Mark(max(0, tr.Uploaded-s.lastTransfer.Uploaded))
	s.lastTransfer = tr
	s.lastStatusAt = now
	s.mStatus.Unlock()

	var progress float64
	if info.NumPieces > 0 {
		progress = math.Min(1, float64(tr.PiecesComplete)/float64(info.NumPieces))
	}
	if err := s.scheduler.UpdatePeerCount(peers); err != nil {
		s.log.Errorln(err.Error())
	}
	if err := s.scheduler.UpdateProgress(progress * 100); err != nil {
		s.log.Errorln(err.Error())
	}
	mode := s.scheduler.Mode().String()
	state := stateOf(info.NumPieces, tr.PiecesComplete)
	remaining := info.TotalLength - completedBytes(info, tr.PiecesComplete)

	s.mStatus.Lock()
	s.status = Status{
		ID:              s.id,
		Name:            info.Name,
		State:           state,
		Mode:            mode,
		Peers:           peers,
		Seeders:         seeders,
		AvailablePieces: available,
		Progress:        progress,
		PiecesComplete:  tr.PiecesComplete,
		NumPieces:       info.NumPieces,
		DownloadSpeed:   downloadSpeed,
		UploadSpeed:     uploadSpeed,
		ETA:             formatETA(remaining, downloadSpeed, state == Seeding),
		TotalBytes:      info.TotalLength,
		Transfer:        tr,
		StartedAt:       s.createdAt,
		UpdatedAt:       now,
	}
	s.mStatus.Unlock()

	s.advisor.Notify(advisor.Update{
		Peers:        peers,
		Progress:     progress * 100,
		DownloadRate: downloadSpeed,
		Mode:         mode,
	})

	if state == Seeding {
		select {
		case <-s.completeC:
		default:
			s.log.Infof("download of %q is completed in %s", info.Name, now.Sub(s.createdAt).Round(time.Second))
			close(s.completeC)
		}
	}
}

func (s *Session) writeStats() {
	st := s.Status()
	err := s.db.Write(&statsdb.Record{
		ID:              s.id,
		Name:            st.Name,
		StartedAt:       s.createdAt,
		UpdatedAt:       s.now(),
		NumPieces:       st.NumPieces,
		PiecesComplete:  st.PiecesComplete,
		Progress:        st.Progress * 100,
		Mode:            st.Mode,
		BytesDownloaded: st.Transfer.Downloaded,
		BytesUploaded:   st.Transfer.Uploaded,
		BytesWasted:     st.Transfer.Wasted,
	})
	if err != nil {
		s.log.Errorln("cannot write stats:", err.Error())
	}
}
