package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/portdisco"
)

type discoverOptions struct {
	dir       string
	port      int
	rangeSize int
	all       bool
	asJSON    bool
}

func newDiscoverCommand() *cobra.Command {
	def := config.Default()
	opts := discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List running bridges from their advertisement records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := discoverRecords(opts)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, opts.asJSON)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.dir, "dir", config.DefaultAdvertiseDir(), "Advertisement directory")
	fs.IntVar(&opts.port, "port", def.Port, "First port of the range to inspect")
	fs.IntVar(&opts.rangeSize, "range", def.PortRangeSize, "Number of ports in the range")
	fs.BoolVar(&opts.all, "all", false, "List every live record regardless of port range")
	fs.BoolVar(&opts.asJSON, "json", false, "Print JSON")
	return cmd
}

func discoverRecords(opts discoverOptions) ([]domain.Advertisement, error) {
	if opts.all {
		return portdisco.List(opts.dir)
	}
	return portdisco.Discover(opts.dir, opts.port, opts.rangeSize)
}

func printRecords(w io.Writer, records []domain.Advertisement, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []domain.Advertisement{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no running bridges found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tPID\tHOST\tSTARTED")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", r.Port, r.PID, r.Host, r.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
