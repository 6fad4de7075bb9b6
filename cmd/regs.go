package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/aicdma/dma"
)

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "Print the controller registers after a workload.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("workload")
		run, ok := workloads[name]
		if !ok {
			return fmt.Errorf("unknown workload %q", name)
		}

		params, err := readParams(cmd)
		if err != nil {
			return err
		}

		s, err := buildSimulation(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Terminate() }()

		if err := run(s, params); err != nil {
			return err
		}

		printRegisters(cmd.OutOrStdout(), s.DMA().DumpRegisters())

		return nil
	},
}

func init() {
	regsCmd.Flags().StringP("workload", "w", "copy", "workload to run first")
	regsCmd.Flags().IntP("count", "n", 1, "requests or segments")
	regsCmd.Flags().Uint32P("size", "s", 1024, "bytes per request or period")
	regsCmd.Flags().Int("periods", 4, "cyclic periods before terminating")

	rootCmd.AddCommand(regsCmd)
}

func printRegisters(out io.Writer, regs []dma.RegisterValue) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOFFSET\tVALUE")

	for _, r := range regs {
		fmt.Fprintf(w, "%s\t0x%03x\t0x%08x\n", r.Name, r.Offset, r.Value)
	}

	_ = w.Flush()
}
