package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/foldsweep/internal/port"
)

// PortOptions holds flags for the port command.
type PortOptions struct {
	*RootOptions
	Count int
	Host  string
}

// NewPortCommand creates the port command.
func NewPortCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PortOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print free TCP ports",
		Long: `Ask the OS for free TCP ports the way the sweep does before each launch.

The ports are released before printing, so another process may take them.

Example:
  foldsweep port
  foldsweep port -n 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPort(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of distinct ports")
	cmd.Flags().StringVar(&opts.Host, "host", "", "host to bind (empty means all interfaces)")

	return cmd
}

func runPort(opts *PortOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Count < 1 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("count must be >= 1, got %d", opts.Count), nil)
	}

	alloc := port.NewAllocatorOn(opts.Host)
	ports := make([]int, 0, opts.Count)
	for range opts.Count {
		p, err := alloc.Acquire()
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodePort, "failed to acquire port", err)
		}
		ports = append(ports, p)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string][]int{"ports": ports})
	}
	for _, p := range ports {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
