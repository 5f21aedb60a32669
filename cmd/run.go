package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/attendant/internal/metrics"
	"github.com/andresmejia3/attendant/internal/notify"
	"github.com/andresmejia3/attendant/internal/tracing"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pollInterval time.Duration
	metricsPort  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recognize guests on the live camera feed",
	Long: `Starts the capture and recognition pipeline and prints arrivals to stdout.
Operator commands are read from stdin:
  enroll <name> [guests]   register the face currently in front of the camera
  stats                    show registered guests and total party size
  restart                  reload the registry into a fresh worker
  quit                     stop the pipeline and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("metrics-port") {
			Cfg.MetricsPort = metricsPort
		}
		return runPipeline(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	runCmd.Flags().DurationVar(&pollInterval, "poll", 100*time.Millisecond, "How often the console sink polls for results")
	runCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve /metrics and /healthz on this port (0 disables)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := tracing.InitTracer(ctx, Cfg.OTLPEndpoint)
	if err != nil {
		Log.Warn("tracing disabled", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = tp.Shutdown(sctx)
		}()
	}

	sup, release, err := newSupervisor(Cfg, DB, Log)
	if err != nil {
		utils.ShowError("Failed to build pipeline", err, nil)
		return err
	}
	defer release()

	if Cfg.MetricsPort > 0 {
		srv := metrics.StartServer(ctx, Cfg.MetricsPort, sup, Log)
		defer srv.Close()
	}

	fmt.Fprintln(os.Stderr, "🎥 Starting camera and recognition worker...")
	if err := sup.Start(ctx); err != nil {
		if !errors.Is(err, types.ErrWorkerUnavailable) {
			utils.ShowError("Failed to start pipeline", err, nil)
			return err
		}
		utils.ShowError("Recognition worker unavailable, running capture only", err, nil)
	}
	defer sup.Stop()

	count, guests, err := sup.Stats(ctx)
	if err == nil {
		fmt.Fprintf(os.Stderr, "✅ Ready: %d registered guests (%d total). Type 'help' for commands.\n", count, guests)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sink := &consoleSink{out: out, log: Log}
	if Cfg.MQTTBroker != "" {
		pub, err := notify.NewMQTT(Cfg.MQTTBroker, "attendant-"+uuid.NewString()[:8], Cfg.MQTTTopic, Log)
		if err != nil {
			Log.Warn("arrival announcements disabled", zap.Error(err))
		} else {
			defer pub.Close()
			sink.announce = pub
		}
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "🛑 Shutting down...")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep recognizing until interrupted.
				lines = nil
				continue
			}
			if handleCommand(ctx, sup, line, out) {
				return nil
			}
		case <-ticker.C:
			if res, ok := sup.TryGetLatestResult(); ok {
				sink.Observe(res)
			}
		}
	}
}

type announcer interface {
	Announce(a notify.Arrival) error
}

// consoleSink announces guests as they appear in front of the camera.
type consoleSink struct {
	out      io.Writer
	announce announcer // optional
	log      *zap.Logger
	lastSeq  uint64
	seen     map[string]bool
	unknowns int
}

// Observe prints names that were absent from the previous result and new unknown faces.
// Results already observed are ignored.
func (c *consoleSink) Observe(res types.Result) {
	if c.seen != nil && res.FrameSeq == c.lastSeq {
		return
	}
	c.lastSeq = res.FrameSeq

	present := make(map[string]bool, len(res.Matches))
	unknowns := 0
	for _, m := range res.Matches {
		if m.Name == types.Unknown {
			unknowns++
			continue
		}
		if !present[m.Name] && !c.seen[m.Name] {
			fmt.Fprintf(c.out, "👋 %s arrived (party of %d)\n", m.Name, m.GuestCount)
			c.publish(notify.Arrival{Name: m.Name, GuestCount: m.GuestCount, FrameSeq: res.FrameSeq, At: time.Now()})
		}
		present[m.Name] = true
	}
	if unknowns > c.unknowns {
		fmt.Fprintf(c.out, "❓ %d unrecognized face(s) in view\n", unknowns)
	}
	c.seen = present
	c.unknowns = unknowns
}

func (c *consoleSink) publish(a notify.Arrival) {
	if c.announce == nil {
		return
	}
	if err := c.announce.Announce(a); err != nil && c.log != nil {
		c.log.Warn("arrival announcement failed", zap.String("name", a.Name), zap.Error(err))
	}
}

// operator is the slice of the supervisor reachable from the console.
type operator interface {
	EnrollFromCamera(ctx context.Context, name string, guests int) error
	Stats(ctx context.Context) (count, guests int, err error)
	RestartWorker(ctx context.Context) error
}

// handleCommand executes one console line and reports whether the operator asked to quit.
func handleCommand(ctx context.Context, op operator, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "enroll":
		name, guests, err := parseEnrollArgs(fields[1:])
		if err != nil {
			fmt.Fprintf(out, "⚠️  %v\n", err)
			return false
		}
		reportEnroll(out, name, guests, op.EnrollFromCamera(ctx, name, guests))
	case "stats":
		count, guests, err := op.Stats(ctx)
		if err != nil {
			fmt.Fprintf(out, "⚠️  stats: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "📊 %d registered guests, %d total\n", count, guests)
	case "restart":
		if err := op.RestartWorker(ctx); err != nil {
			fmt.Fprintf(out, "⚠️  restart: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "🔄 Worker restarted")
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(out, "commands: enroll <name> [guests], stats, restart, quit")
	default:
		fmt.Fprintf(out, "⚠️  unknown command %q (try 'help')\n", fields[0])
	}
	return false
}

// parseEnrollArgs reads "<name...> [guests]". A trailing integer is the guest count,
// so names may contain spaces.
func parseEnrollArgs(fields []string) (string, int, error) {
	if len(fields) == 0 {
		return "", 0, errors.New("usage: enroll <name> [guests]")
	}
	guests := 1
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
			guests = n
			fields = fields[:len(fields)-1]
		}
	}
	return strings.Join(fields, " "), guests, nil
}

// reportEnroll prints the outcome of an enrollment attempt.
func reportEnroll(out io.Writer, name string, guests int, err error) {
	var dup *types.AlreadyRegisteredError
	switch {
	case err == nil:
		fmt.Fprintf(out, "✅ Enrolled %s (party of %d)\n", name, guests)
	case errors.As(err, &dup):
		fmt.Fprintf(out, "⚠️  This face is already registered as %s (similarity %.2f)\n", dup.Name, dup.Similarity)
	case errors.Is(err, types.ErrNoFaceDetected):
		fmt.Fprintln(out, "⚠️  No face detected, try again")
	case errors.Is(err, types.ErrAmbiguousFaceCount):
		fmt.Fprintln(out, "⚠️  More than one face in view, only one person at a time")
	case errors.Is(err, types.ErrWorkerUnavailable):
		fmt.Fprintf(out, "⚠️  Enrolled %s, but the recognition worker could not be restarted\n", name)
	default:
		fmt.Fprintf(out, "⚠️  Enrollment failed: %v\n", err)
	}
}
