package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/endorses/ymsgcat/internal/pkg/output"
	"github.com/endorses/ymsgcat/internal/pkg/version"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for an output format other than text, yaml or json
var ErrUnknownFormat = errors.New("unknown output format")

// Format selects how a report is rendered
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatYAML, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Report is the result of one classification run
type Report struct {
	RunID     string        `yaml:"run_id" json:"run_id"`
	Build     version.Info  `yaml:"build" json:"build"`
	Source    string        `yaml:"source" json:"source"`
	StartedAt time.Time     `yaml:"started_at" json:"started_at"`
	Duration  string        `yaml:"duration" json:"duration"`
	Summary   Summary       `yaml:"summary" json:"summary"`
	Flows     []FlowSummary `yaml:"flows" json:"flows"`
}

// Summary holds run totals
type Summary struct {
	Packets       uint64 `yaml:"packets" json:"packets"`
	YMSGPackets   uint64 `yaml:"ymsg_packets" json:"ymsg_packets"`
	Flows         int    `yaml:"flows" json:"flows"`
	YMSGFlows     int    `yaml:"ymsg_flows" json:"ymsg_flows"`
	ExcludedFlows int    `yaml:"excluded_flows" json:"excluded_flows"`
}

// FlowSummary describes one flow
type FlowSummary struct {
	ID             string    `yaml:"id" json:"id"`
	Protocol       string    `yaml:"protocol" json:"protocol"`
	Protocols      []string  `yaml:"protocols,omitempty" json:"protocols,omitempty"`
	Packets        uint64    `yaml:"packets" json:"packets"`
	FirstSeen      time.Time `yaml:"first_seen" json:"first_seen"`
	LastSeen       time.Time `yaml:"last_seen" json:"last_seen"`
	Classification string    `yaml:"classification,omitempty" json:"classification,omitempty"`
	MatchKind      string    `yaml:"match_kind,omitempty" json:"match_kind,omitempty"`
	Rule           string    `yaml:"rule,omitempty" json:"rule,omitempty"`
	Detail         string    `yaml:"detail,omitempty" json:"detail,omitempty"`
	ProxyStage     string    `yaml:"proxy_stage,omitempty" json:"proxy_stage,omitempty"`
	Excluded       []string  `yaml:"excluded,omitempty" json:"excluded,omitempty"`
}

// Write renders r to w in format f
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatText:
		return writeText(w, r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		if err := output.WriteJSON(w, r); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

func writeText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLOW\tSTACK\tPACKETS\tCLASSIFICATION\tKIND\tRULE")
	for _, f := range r.Flows {
		stack := strings.Join(f.Protocols, "/")
		if stack == "" {
			stack = f.Protocol
		}
		rule := f.Rule
		if f.Detail != "" {
			rule += ":" + f.Detail
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			f.ID, stack, f.Packets, dash(f.Classification), dash(f.MatchKind), dash(rule))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nrun %s: %d packets, %d flows, %d YMSG flows (%d packets), %d excluded\n",
		r.RunID, r.Summary.Packets, r.Summary.Flows, r.Summary.YMSGFlows,
		r.Summary.YMSGPackets, r.Summary.ExcludedFlows)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
