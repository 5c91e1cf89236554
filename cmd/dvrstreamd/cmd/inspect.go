package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/jmylchreest/dvrstreamd/internal/config"
	"github.com/jmylchreest/dvrstreamd/internal/tsinspect"
	"github.com/jmylchreest/dvrstreamd/internal/urlutil"
	"github.com/jmylchreest/dvrstreamd/internal/version"
	"github.com/jmylchreest/dvrstreamd/pkg/httpclient"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Fetch an MPEG-TS resource and report its PAT/PMT/PCR structure",
	Long: `inspect issues a one-shot GET against the given URL, demuxes the
response body as MPEG-TS, and prints a summary of discovered programs,
per-PID packet counts, and PCR spans. Unlike serve, it does not use the
ring buffer or the PMT splice filter; it is strictly a read-only
diagnostic over the raw transport stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	url := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := urlutil.ValidateURL(url); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = version.UserAgent()
	breaker := httpclient.DefaultManager.GetOrCreate("dvr_inspect")
	fetcher := urlutil.NewResourceFetcherWithBreaker(httpCfg, breaker)

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Inspect.Timeout.Duration())
	defer cancel()

	body, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer body.Close()

	report, err := tsinspect.Scan(ctx, body)
	if err != nil {
		return fmt.Errorf("scanning transport stream: %w", err)
	}

	printReport(report)
	return nil
}

func printReport(rep *tsinspect.Report) {
	fmt.Fprintf(os.Stdout, "packets: %d\n", rep.Packets)
	fmt.Fprintf(os.Stdout, "programs: %d\n", len(rep.Programs))
	for _, p := range rep.Programs {
		fmt.Fprintf(os.Stdout, "  program %d: pmt_pid=0x%04x streams=%v\n", p.ProgramNumber, p.PMTPID, p.StreamPIDs)
	}

	pids := make([]uint16, 0, len(rep.PIDCounts))
	for pid := range rep.PIDCounts {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	fmt.Fprintln(os.Stdout, "pid counts:")
	for _, pid := range pids {
		fmt.Fprintf(os.Stdout, "  0x%04x: %d packets\n", pid, rep.PIDCounts[pid])
		if span, ok := rep.PCRSpans[pid]; ok {
			fmt.Fprintf(os.Stdout, "    pcr: first=%d last=%d count=%d\n", span.First, span.Last, span.Count)
		}
	}
}
