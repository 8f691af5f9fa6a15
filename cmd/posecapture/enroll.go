package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/enroll"
	"github.com/ayusman/posecapture/internal/pose"
)

var enrollOpts struct {
	Poses     string
	Threshold float64
	Cooldown  time.Duration
	Timeout   time.Duration
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Run one capture session from the terminal and store the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := enrollSession(cmd)
		if err != nil {
			return err
		}
		return runEnroll(cmd.Context(), sc)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOpts.Poses, "poses", "", "comma-separated pose order (default capture.poses)")
	enrollCmd.Flags().Float64Var(&enrollOpts.Threshold, "threshold", 0, "detection threshold in [0,1] (default capture.detection_threshold)")
	enrollCmd.Flags().DurationVar(&enrollOpts.Cooldown, "cooldown", 0, "pause after each capture (default capture.cooldown_ms)")
	enrollCmd.Flags().DurationVar(&enrollOpts.Timeout, "timeout", 2*time.Minute, "abort the session after this long")
	rootCmd.AddCommand(enrollCmd)
}

// enrollSession applies the flags the user set on top of the configured defaults.
func enrollSession(cmd *cobra.Command) (app.SessionConfig, error) {
	sc := cfg.Session()
	if cmd.Flags().Changed("poses") {
		seq, err := pose.ParseSequence(strings.Split(enrollOpts.Poses, ","))
		if err != nil {
			return sc, err
		}
		sc.Poses = seq.Poses()
	}
	if cmd.Flags().Changed("threshold") {
		sc.Threshold = enrollOpts.Threshold
	}
	if cmd.Flags().Changed("cooldown") {
		sc.Cooldown = enrollOpts.Cooldown
	}
	return sc, sc.Validate()
}

func runEnroll(ctx context.Context, sc app.SessionConfig) error {
	rt, err := newRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	done := newDoneObserver()
	rt.controller.AddObserver(newProgressObserver(len(sc.Poses)))
	rt.controller.AddObserver(done)

	id, err := rt.controller.Start(sc)
	if err != nil {
		return err
	}

	timer := time.NewTimer(enrollOpts.Timeout)
	defer timer.Stop()

	select {
	case e := <-done.C:
		fmt.Fprintln(os.Stderr)
		if e.Type == enroll.EventSessionAborted {
			return fmt.Errorf("session %s aborted: %s", id, e.Reason)
		}
		fmt.Printf("Enrollment %s stored (%d poses)\n", id, e.Captured)
		return nil
	case <-timer.C:
		rt.controller.Abort()
		return fmt.Errorf("session %s timed out after %s", id, enrollOpts.Timeout)
	case <-ctx.Done():
		rt.controller.Abort()
		return errors.New("interrupted")
	}
}

// progressObserver renders session progress as a terminal progress bar.
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func newProgressObserver(total int) *progressObserver {
	return &progressObserver{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Starting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (p *progressObserver) OnEvent(e enroll.Event) {
	switch e.Type {
	case enroll.EventSessionStarted, enroll.EventPoseAdvanced:
		p.bar.Describe(fmt.Sprintf("Look %s", e.Pose))
	case enroll.EventPoseCaptured:
		p.bar.Describe("Captured, hold on")
		if err := p.bar.Set(e.Captured); err != nil {
			log.WithError(err).Debug("progress bar update failed")
		}
	case enroll.EventSessionCompleted:
		p.bar.Finish()
	}
}

// doneObserver reports the first terminal event of a session.
type doneObserver struct {
	C chan enroll.Event
}

func newDoneObserver() *doneObserver {
	return &doneObserver{C: make(chan enroll.Event, 1)}
}

func (d *doneObserver) OnEvent(e enroll.Event) {
	if e.Type != enroll.EventSessionCompleted && e.Type != enroll.EventSessionAborted {
		return
	}
	select {
	case d.C <- e:
	default:
	}
}
