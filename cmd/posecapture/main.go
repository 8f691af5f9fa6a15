// Command posecapture runs guided multi-pose face capture sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/config"
	"github.com/ayusman/posecapture/internal/detector"
	"github.com/ayusman/posecapture/internal/logger"
	"github.com/ayusman/posecapture/internal/notify"
	"github.com/ayusman/posecapture/internal/plugin"
	"github.com/ayusman/posecapture/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg        *config.Config
	configPath string
	logLevel   string
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "posecapture",
	Short:         "Guided multi-pose face capture",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logCloser, err = logger.Init(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialise logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newDetector builds the configured backend. With fallback set, a backend
// that cannot start is replaced by the mock detector so the server still runs.
func newDetector(c *config.Config, fallback bool) (detector.Detector, error) {
	det, err := detector.New(c.Detector.Backend, c.DetectorOptions())
	if err == nil {
		return det, nil
	}
	if !fallback {
		return nil, fmt.Errorf("failed to start %s detector: %w", c.Detector.Backend, err)
	}
	log.WithFields(log.Fields{
		"backend": c.Detector.Backend,
		"error":   err,
	}).Warn("face detector unavailable, falling back to mock detector")
	return detector.NewMockDetector(), nil
}

// runtimeDeps is everything a capture command wires around the controller.
type runtimeDeps struct {
	store      *store.Store
	controller *app.Controller
	mqtt       *notify.Client
}

// newRuntime opens the store, builds the controller and attaches the
// persistence sink, the hook sink and the MQTT observer.
func newRuntime(c *config.Config, fallback bool) (*runtimeDeps, error) {
	st, err := store.New(c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	det, err := newDetector(c, fallback)
	if err != nil {
		st.Close()
		return nil, err
	}

	ctrl := app.New(app.Config{
		Device:              c.Camera.Device(),
		Detector:            det,
		FPS:                 c.Capture.FPS,
		MaxDetectorFailures: c.Capture.MaxDetectorFailures,
		MaxSourceFailures:   c.Capture.MaxSourceFailures,
		MotionThreshold:     c.Capture.MotionThreshold,
	})
	ctrl.AddSink(store.NewSink(st))

	if c.Hooks.Dir != "" {
		hooks := plugin.NewManager(c.Hooks.Dir)
		if err := hooks.Discover(); err != nil {
			log.WithError(err).Warn("failed to discover hooks")
		}
		ctrl.AddSink(plugin.NewSink(hooks, plugin.NewExecutor(c.HookTimeout())))
	}

	rt := &runtimeDeps{store: st, controller: ctrl}

	mq, err := notify.NewClient(c.MQTT)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if mq != nil {
		if err := mq.Connect(); err != nil {
			log.WithError(err).Warn("MQTT broker unreachable, will keep retrying")
		}
		ctrl.AddObserver(mq.Observer())
		rt.mqtt = mq
	}

	return rt, nil
}

// Close stops the controller and releases the store and broker connection.
func (rt *runtimeDeps) Close() {
	if rt.controller != nil {
		if err := rt.controller.Close(); err != nil {
			log.WithError(err).Warn("error closing controller")
		}
	}
	if rt.mqtt != nil {
		rt.mqtt.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}
