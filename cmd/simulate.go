package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/aicdma/config"
	"github.com/sarchlab/aicdma/simulation"
	"github.com/sarchlab/aicdma/tracing"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a DMA workload on a simulated controller.",
	Long: "`simulate --workload copy,cyclic` runs the listed workloads one " +
		"after another and prints a summary. Workloads: " +
		strings.Join(workloadNames(), ", ") + ", all.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names, _ := cmd.Flags().GetStringSlice("workload")
		params, err := readParams(cmd)
		if err != nil {
			return err
		}

		return simulate(cmd.OutOrStdout(), cfg, names, params)
	},
}

func init() {
	simulateCmd.Flags().StringSliceP("workload", "w", []string{"all"},
		"workloads to run")
	simulateCmd.Flags().IntP("count", "n", 8, "requests or segments per workload")
	simulateCmd.Flags().Uint32P("size", "s", 4096, "bytes per request or period")
	simulateCmd.Flags().Int("periods", 8, "cyclic periods before terminating")

	rootCmd.AddCommand(simulateCmd)
}

func readParams(cmd *cobra.Command) (workloadParams, error) {
	p := workloadParams{}
	p.count, _ = cmd.Flags().GetInt("count")
	p.size, _ = cmd.Flags().GetUint32("size")
	p.periods, _ = cmd.Flags().GetInt("periods")

	switch {
	case p.count <= 0:
		return p, fmt.Errorf("count must be positive, got %d", p.count)
	case p.size == 0:
		return p, fmt.Errorf("size must be positive")
	case uint64(p.count)*uint64(p.size)*2 > regionSize*4:
		return p, fmt.Errorf("%d requests of %d bytes do not fit the buffers",
			p.count, p.size)
	}

	return p, nil
}

func expandWorkloads(names []string, cfg config.Config) ([]string, error) {
	var out []string

	for _, n := range names {
		if n == "all" {
			for _, w := range workloadNames() {
				if w == "sync" && cfg.Controller.Dedicated == 0 {
					continue
				}
				out = append(out, w)
			}

			continue
		}

		if _, ok := workloads[n]; !ok {
			return nil, fmt.Errorf("unknown workload %q", n)
		}

		out = append(out, n)
	}

	return out, nil
}

func buildSimulation(cfg config.Config) (*simulation.Simulation, error) {
	return simulation.MakeBuilder().
		WithConfig(cfg).
		WithLogger(logrus.StandardLogger()).
		Build("DMA")
}

func simulate(
	out io.Writer,
	cfg config.Config,
	names []string,
	params workloadParams,
) error {
	names, err := expandWorkloads(names, cfg)
	if err != nil {
		return err
	}

	s, err := buildSimulation(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Terminate(); err != nil {
			logrus.WithError(err).Error("terminating simulation")
		}
	}()

	if url := s.MonitorURL(); url != "" {
		fmt.Fprintf(out, "Monitor: %s\n", url)
	}

	for _, n := range names {
		logrus.WithField("workload", n).Info("running")

		if err := workloads[n](s, params); err != nil {
			return fmt.Errorf("workload %s: %w", n, err)
		}

		fmt.Fprintf(out, "%-12s ok   t=%.9fs\n", n, float64(s.Engine().CurrentTime()))
	}

	printSummary(out, s)

	return nil
}

func printSummary(out io.Writer, s *simulation.Simulation) {
	c := s.Counter()

	fmt.Fprintf(out, "submitted=%d started=%d completed=%d periods=%d "+
		"faults=%d terminated=%d\n",
		c.Count(tracing.KindSubmit),
		c.Count(tracing.KindStart),
		c.Count(tracing.KindComplete),
		c.Count(tracing.KindPeriod),
		c.Count(tracing.KindFault),
		c.Count(tracing.KindTerminate),
	)
	fmt.Fprintf(out, "bytes=%d avg_latency=%.9fs moved=%d\n",
		c.BytesCompleted(),
		float64(c.AverageLatency()),
		s.Controller().BytesMoved(),
	)
	fmt.Fprintf(out, "sim_time=%.9fs events=%d\n",
		float64(s.Engine().CurrentTime()),
		s.Engine().EventsHandled(),
	)

	if r := s.Recorder(); r != nil {
		fmt.Fprintf(out, "trace: %s\n", r.FileName())
	}
}
