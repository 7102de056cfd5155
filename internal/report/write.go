package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"tptbm/api/tptbmapi"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.Newf("unknown output format %q", s)
	}
}

func Write(w io.Writer, format Format, s *tptbmapi.Summary) error {
	switch format {
	case FormatText, "":
		return writeText(w, s)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		b, err := yaml.MarshalWithOptions(s, yaml.UseJSONMarshaler())
		if err != nil {
			return errors.Wrap(err, "encode summary")
		}
		_, err = w.Write(b)
		return err
	default:
		return errors.Newf("unknown output format %q", format)
	}
}

func writeText(w io.Writer, s *tptbmapi.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)

	fmt.Fprintf(tw, "Run:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Driver:\t%s\n", s.Driver)
	fmt.Fprintf(tw, "Processes:\t%d\n", s.Processes)
	fmt.Fprintf(tw, "Transactions:\t%d\n", s.Transactions)
	fmt.Fprintf(tw, "Ops per txn:\t%s\n", s.OpsPerTxn)
	if s.MultiOp {
		fmt.Fprintf(tw, "Mix:\tmulti-op (insert, 3 reads, update)\n")
	} else {
		fmt.Fprintf(tw, "Mix:\t%d%% read, %d%% update, %d%% insert, %d%% delete\n",
			s.Mix.Read, s.Mix.Update, s.Mix.Insert, s.Mix.Delete)
	}
	fmt.Fprintf(tw, "Elapsed time:\t%s\n", FormatElapsed(s.Elapsed.Duration))
	fmt.Fprintf(tw, "CPU time:\t%s\n", FormatElapsed(s.CPU.Duration))
	fmt.Fprintf(tw, "Committed:\t%d\n", s.Committed)
	fmt.Fprintf(tw, "Rolled back:\t%d\n", s.RolledBack)
	fmt.Fprintf(tw, "Transactions per second:\t%.1f\n", float64(s.TPS))
	fmt.Fprintf(tw, "Transactions per minute:\t%.1f\n", float64(s.TPM))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Ops) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "op\tcount\tno data\tlock timeouts\tavg ms\tp50 ms\tp99 ms\tmax ms\t")
	for _, op := range s.Ops {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t\n",
			op.Operation, op.Count, op.NoData, op.LockTimeouts, op.Avg, op.Median, op.P99, op.Max)
	}
	return tw.Flush()
}

// WriteMetrics dumps everything g gathers in the text exposition format.
func WriteMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "encode metric %s", mf.GetName())
		}
	}
	return nil
}
