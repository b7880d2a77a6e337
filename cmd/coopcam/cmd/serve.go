package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coopcam/coopcam/internal/config"
	"github.com/coopcam/coopcam/internal/database"
	"github.com/coopcam/coopcam/internal/events"
	internalhttp "github.com/coopcam/coopcam/internal/http"
	"github.com/coopcam/coopcam/internal/http/handlers"
	"github.com/coopcam/coopcam/internal/models"
	"github.com/coopcam/coopcam/internal/motion"
	"github.com/coopcam/coopcam/internal/recording"
	"github.com/coopcam/coopcam/internal/repository"
	"github.com/coopcam/coopcam/internal/stream"
	"github.com/coopcam/coopcam/internal/version"
)

// assumedUpstreamFPS sizes the pre-motion frame window. DroidCam and most
// phone MJPEG apps top out around 30 fps.
const assumedUpstreamFPS = 30

// drainTimeout bounds how long shutdown waits for in-flight worker tasks
// and encoder jobs.
const drainTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coopcam server",
	Long: `Start the coopcam HTTP server.

The server provides:
- Live MJPEG streams at /api/stream/{sourceId}
- Motion events over SSE at /api/events/motion
- Motion history, pause controls, health and system status
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().String("database", "", "motion history database path (overrides config)")
	serveCmd.Flags().String("output-dir", "", "recording output directory (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.Path, _ = flags.GetString("database")
	}
	if flags.Changed("output-dir") {
		cfg.Recording.OutputDir, _ = flags.GetString("output-dir")
	}

	initLogging(cfg)
	logger := slog.Default()

	logger.Info("starting coopcam",
		slog.String("version", version.Short()),
		slog.Int("sources", len(cfg.Sources)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Orphaned .part files from a crashed run are unplayable; remove them
	// before anything writes to the output directory.
	if cfg.Recording.Enabled {
		if removed := recording.CleanupPartials(cfg.Recording.OutputDir, logger); removed > 0 {
			logger.Info("removed partial recordings from previous run",
				slog.Int("count", removed),
			)
		}
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	repo := repository.NewMotionEventRepository(db.DB)

	pool := stream.NewPool(stream.DefaultSlotSize, stream.DefaultSlots)

	settings := stream.ProxySettings{
		PreBufferCapacity: prebufferCapacity(cfg.Recording),
	}
	if cfg.Motion.Enabled {
		settings.MotionFPS = cfg.Motion.FPS
	}
	manager := stream.NewManager(ctx, cfg, settings, pool, logger)

	broadcaster := events.NewBroadcaster(0, logger)

	var engine *motion.Engine
	if cfg.Motion.Enabled {
		engine = motion.NewEngine(cfg.Motion, logger)
	}

	var controller *recording.Controller
	var ffmpegPath string
	if cfg.Recording.Enabled {
		enc, err := recording.NewFFmpegEncoder(cfg.Recording.FFmpegPath, cfg.Recording.VideoCodec, cfg.Recording.VideoPreset, logger)
		switch {
		case errors.Is(err, recording.ErrFFmpegNotFound):
			logger.Warn("ffmpeg not found, recording disabled")
		case err != nil:
			return fmt.Errorf("initializing encoder: %w", err)
		default:
			ffmpegPath = enc.Path()
			controller = recording.NewController(cfg.Recording, enc, logger)
			controller.OnFinished(func(s recording.Summary) {
				logger.Info("recording finished",
					slog.String("recording", s.ID),
					slog.String("source", s.SourceID),
					slog.String("state", string(s.State)),
					slog.Int("frames", s.FrameCount),
				)
				if s.State != recording.StateDone || s.EventID == "" {
					return
				}
				if err := repo.SetRecordingRef(context.Background(), s.EventID, s.ID); err != nil {
					logger.Error("linking recording to motion event", slog.Any("error", err))
				}
			})
		}
	}

	// The sweeper also prunes motion-event rows, so it runs even when
	// recording is off; with no output directory the file pass is a no-op.
	retention := recording.NewRetention(cfg.Recording.OutputDir, cfg.Recording.RetentionDays, logger)
	retention.OnSweep(func(ctx context.Context, cutoff time.Time) (int64, error) {
		return repo.DeleteBefore(ctx, cutoff)
	})
	if err := retention.Start(); err != nil {
		return fmt.Errorf("starting retention sweeper: %w", err)
	}
	defer retention.Stop()

	for _, proxy := range manager.Proxies() {
		if engine != nil {
			engine.Attach(proxy)
		}
		if controller != nil {
			controller.Attach(proxy)
		}
	}

	// Motion events fan out from the engine to the SSE broadcaster, the
	// recording controller, and the history database. This is the only
	// edge connecting the three; none of them know about each other.
	if engine != nil {
		go func() {
			for ev := range engine.Events() {
				broadcaster.Publish(ev)
				if controller != nil {
					controller.HandleMotion(ev)
				}
				if err := repo.Create(ctx, models.FromDetection(ev)); err != nil {
					logger.Error("persisting motion event",
						slog.String("event", ev.ID),
						slog.Any("error", err),
					)
				}
			}
		}()
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())

	streamHandler := handlers.NewStreamHandler(manager, cfg.StreamPausePassword, cfg.PauseDuration, logger)
	streamHandler.Register(server.API())
	streamHandler.RegisterStream(server.Router())

	handlers.NewSourcesHandler(manager).Register(server.API())
	handlers.NewMotionHandler(repo, logger).Register(server.API())

	eventsHandler := handlers.NewEventsHandler(broadcaster, logger)
	eventsHandler.RegisterSSE(server.Router())

	healthHandler := handlers.NewHealthHandler(version.Short()).WithDB(db).WithManager(manager)
	healthHandler.Register(server.API())
	healthHandler.RegisterLiveness(server.Router())

	recordingDir := ""
	if cfg.Recording.Enabled {
		recordingDir = cfg.Recording.OutputDir
	}
	systemHandler := handlers.NewSystemHandler(version.Short(), recordingDir).
		WithFFmpeg(ffmpegPath).
		WithStreams(manager)
	if engine != nil {
		systemHandler.WithMotion(engine)
	}
	if controller != nil {
		systemHandler.WithRecording(controller)
	}
	systemHandler.Register(server.API())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		// Bind failure; nothing started streaming yet.
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// Closing the sources first ends every open MJPEG response, and closing
	// the broadcaster ends every SSE response; only then can the HTTP server
	// drain its handlers.
	manager.Shutdown()
	broadcaster.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if engine != nil {
		if err := engine.Close(drainCtx); err != nil {
			logger.Warn("worker pool did not drain cleanly", slog.Any("error", err))
		}
	}
	if controller != nil {
		if err := controller.Close(drainCtx); err != nil {
			logger.Warn("recording controller did not drain cleanly", slog.Any("error", err))
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// prebufferCapacity sizes the rolling frame window so a recording's
// pre-motion context survives at full upstream rate.
func prebufferCapacity(cfg config.RecordingConfig) int {
	if !cfg.Enabled {
		return assumedUpstreamFPS // small window, still serves late viewers
	}
	capacity := int(cfg.PreBuffer.Seconds()) * assumedUpstreamFPS
	if capacity < assumedUpstreamFPS {
		capacity = assumedUpstreamFPS
	}
	return capacity
}
