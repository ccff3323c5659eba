package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/observability"
)

// Run keeps the device connected to the remote store until ctx is cancelled:
// connectivity probing, timer-driven sync passes and, when enabled, the
// metrics endpoint. It returns early only if the metrics endpoint fails.
func (s *Services) Run(ctx context.Context) error {
	log := GetLogger()
	g, gctx := errgroup.WithContext(ctx)

	if s.Prober != nil {
		g.Go(func() error {
			s.Prober.Run(gctx)
			return nil
		})
	}

	s.Syncer.Start(gctx)

	if s.Settings.Metrics.Enabled {
		endpoint := observability.NewEndpoint(s.Settings.Metrics.Listen, s.Metrics)
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}

	g.Go(func() error {
		s.logStatus(gctx)
		return nil
	})

	cfg := s.Config.Snapshot()
	log.Info("sync service started",
		logger.Bool("online", s.Monitor.IsOnline()),
		logger.Int("pending", s.Syncer.PendingCount()),
		logger.Bool("auto_sync", cfg.AutoSync),
		logger.Duration("sync_interval", cfg.SyncInterval()))

	err := g.Wait()
	log.Info("sync service stopped", logger.Int("pending", s.Syncer.PendingCount()))
	return err
}

// logStatus logs connectivity transitions and sync state changes.
func (s *Services) logStatus(ctx context.Context) {
	log := GetLogger()
	netCh, netCancel := s.Monitor.Subscribe(4)
	defer netCancel()
	syncCh, syncCancel := s.Syncer.Subscribe(4)
	defer syncCancel()

	lastState := s.Syncer.Status().State
	for netCh != nil || syncCh != nil {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-netCh:
			if !ok {
				netCh = nil
				continue
			}
			log.Info("connectivity changed", logger.Bool("online", st.Online))
		case st, ok := <-syncCh:
			if !ok {
				syncCh = nil
				continue
			}
			if st.State == lastState {
				continue
			}
			lastState = st.State
			fields := []logger.Field{
				logger.String("state", string(st.State)),
				logger.Int("pending", st.PendingCount),
			}
			if st.LastError != "" {
				fields = append(fields, logger.String("last_error", st.LastError))
			}
			log.Info("sync state changed", fields...)
		}
	}
}
