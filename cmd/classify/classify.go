package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/bpfutil"
	"github.com/endorses/ymsgcat/internal/pkg/capture"
	"github.com/endorses/ymsgcat/internal/pkg/cmdutil"
	"github.com/endorses/ymsgcat/internal/pkg/constants"
	"github.com/endorses/ymsgcat/internal/pkg/detector"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures/messaging"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/endorses/ymsgcat/internal/pkg/metrics"
	"github.com/endorses/ymsgcat/internal/pkg/pcapwriter"
	"github.com/endorses/ymsgcat/internal/pkg/report"
	"github.com/endorses/ymsgcat/internal/pkg/signals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	// ErrNoInput is returned when neither a file nor an interface is given
	ErrNoInput = errors.New("no input: use --read-file or --interface")
	// ErrConflictingInput is returned when both a file and an interface are given
	ErrConflictingInput = errors.New("--read-file and --interface are mutually exclusive")
)

// ClassifyCmd is the classify command registered on the root command
var ClassifyCmd = NewCommand()

// NewCommand builds a classify command with its own flag set
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify flows and report Yahoo Messenger traffic",
		Long: `Run the protocol detector over a capture file or a live interface and report every
flow with its protocol stack. Flows carrying Yahoo Messenger are annotated with the rule
that matched.

Examples:
  # Classify a capture file
  ymsgcat classify -r capture.pcapng

  # YAML report of a live capture, keeping messenger packets
  ymsgcat classify -i eth0 --format yaml -w ymsg.pcap

  # Disable the HTTP tunnel heuristics
  ymsgcat classify -r capture.pcap --http-detection=false`,
		RunE: runClassify,
	}

	flags := cmd.Flags()
	flags.StringP("read-file", "r", "", "read packets from a pcap or pcapng file")
	flags.StringP("interface", "i", "", "capture packets from a network interface")
	flags.StringP("filter", "f", "", "BPF filter to apply")
	flags.Bool("promiscuous", false, "put the interface in promiscuous mode")
	flags.String("format", string(report.FormatText), "report format (text, yaml, json)")
	flags.StringP("write-file", "w", "", "write packets of YMSG flows to this pcap file")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9090)")

	flags.Duration("flow-ttl", constants.DefaultFlowTTL, "evict flows idle for this long")
	flags.Duration("endpoint-ttl", constants.DefaultEndpointTTL, "forget endpoint tags idle for this long")
	flags.Bool("http-detection", constants.DefaultYMSGHTTPDetection, "enable the HTTP tunnel heuristics")
	flags.Duration("video-timeout", constants.DefaultYMSGVideoTimeout, "how long a video marker keeps port 5100 classifiable")
	flags.StringSlice("host-protocols", constants.DefaultYMSGHostProtocols, "top-level protocols YMSG detection may run beneath")

	return cmd
}

// options is the effective configuration of one run
type options struct {
	readFile    string
	device      string
	live        capture.LiveConfig
	format      report.Format
	writeFile   string
	metricsAddr string
	detector    detector.Config
	ymsg        messaging.Config
}

func loadOptions(cmd *cobra.Command) (*options, error) {
	format, err := report.ParseFormat(cmdutil.GetStringConfig(cmd, "format", "classify.format"))
	if err != nil {
		return nil, err
	}

	opts := &options{
		readFile:    cmdutil.GetStringConfig(cmd, "read-file", "classify.read_file"),
		device:      cmdutil.GetStringConfig(cmd, "interface", "classify.interface"),
		format:      format,
		writeFile:   cmdutil.GetStringConfig(cmd, "write-file", "classify.write_file"),
		metricsAddr: cmdutil.GetStringConfig(cmd, "metrics-addr", "metrics.addr"),
		detector: detector.Config{
			FlowTTL:     cmdutil.GetDurationConfig(cmd, "flow-ttl", "detector.flow_ttl"),
			EndpointTTL: cmdutil.GetDurationConfig(cmd, "endpoint-ttl", "detector.endpoint_ttl"),
		},
		ymsg: messaging.Config{
			HTTPDetection: cmdutil.GetBoolConfig(cmd, "http-detection", "detector.ymsg.http_detection"),
			VideoTimeout:  cmdutil.GetDurationConfig(cmd, "video-timeout", "detector.ymsg.video_timeout"),
			HostProtocols: cmdutil.GetStringSliceConfig(cmd, "host-protocols", "detector.ymsg.host_protocols"),
		},
	}

	opts.live = capture.DefaultLiveConfig()
	opts.live.Filter = cmdutil.GetStringConfig(cmd, "filter", "classify.filter")
	opts.live.Promiscuous = cmdutil.GetBoolConfig(cmd, "promiscuous", "classify.promiscuous")

	switch {
	case opts.readFile == "" && opts.device == "":
		return nil, ErrNoInput
	case opts.readFile != "" && opts.device != "":
		return nil, ErrConflictingInput
	}
	if opts.ymsg.VideoTimeout <= 0 {
		return nil, fmt.Errorf("video timeout must be positive, got %s", opts.ymsg.VideoTimeout)
	}
	return opts, nil
}

func openSource(opts *options) (*capture.Source, error) {
	if opts.readFile != "" {
		return capture.OpenOffline(opts.readFile, opts.live.Filter)
	}
	live := opts.live
	live.Filter = bpfutil.ExcludeListener(live.Filter, opts.metricsAddr)
	return capture.OpenLive(opts.device, live)
}

func runClassify(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	src, err := openSource(opts)
	if err != nil {
		return err
	}
	defer src.Close()

	det := detector.NewDefault(opts.detector, opts.ymsg)
	defer det.Shutdown()

	if opts.metricsAddr != "" {
		gatherers := prometheus.Gatherers{det.Metrics().Registry(), metrics.NewRuntimeRegistry()}
		srv := metrics.NewServer(opts.metricsAddr, "", gatherers)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				logger.Warn("Failed to stop metrics server", "error", err)
			}
		}()
	}

	var sink report.PacketSink
	if opts.writeFile != "" {
		wcfg := pcapwriter.DefaultConfig()
		wcfg.FilePath = opts.writeFile
		wcfg.LinkType = src.LinkType()
		wcfg.Blocking = opts.readFile != ""
		w, err := pcapwriter.New(wcfg)
		if err != nil {
			return err
		}
		defer w.Close()
		sink = w
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signals.WithShutdown(parent)
	defer stop()

	collector := report.NewCollector(det, src.Name(), sink)
	start := time.Now()
	collector.Run(ctx, src.Stream(ctx))

	if err := src.Err(); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Classification complete",
		"run_id", collector.RunID(),
		"elapsed", time.Since(start).String(),
		"stats", det.GetStats())

	return report.Write(cmd.OutOrStdout(), collector.Report(), opts.format)
}
