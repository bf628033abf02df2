package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/portdisco"
)

const sessionsRequestTimeout = 5 * time.Second

type sessionsOptions struct {
	host   string
	port   int
	dir    string
	asJSON bool
}

func newSessionsCommand() *cobra.Command {
	def := config.Default()
	opts := sessionsOptions{}
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show plugin sessions connected to a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, port, err := resolveBridgeAddr(opts, def)
			if err != nil {
				return err
			}
			infos, err := fetchSessions(cmd.Context(), http.DefaultClient, host, port)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), infos, opts.asJSON)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.host, "host", def.Host, "Bridge host")
	fs.IntVar(&opts.port, "port", 0, "Bridge port (default: first advertised bridge)")
	fs.StringVar(&opts.dir, "dir", config.DefaultAdvertiseDir(), "Advertisement directory used when --port is not set")
	fs.BoolVar(&opts.asJSON, "json", false, "Print JSON")
	return cmd
}

func resolveBridgeAddr(opts sessionsOptions, def config.BridgeConfig) (string, int, error) {
	if opts.port > 0 {
		return opts.host, opts.port, nil
	}
	records, err := portdisco.Discover(opts.dir, def.Port, def.PortRangeSize)
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, errors.New("no running bridge found; pass --port")
	}
	host := records[0].Host
	if host == "" {
		host = opts.host
	}
	return host, records[0].Port, nil
}

func fetchSessions(ctx context.Context, client *http.Client, host string, port int) ([]domain.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionsRequestTimeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/v1/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query bridge: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query bridge: unexpected status %s", resp.Status)
	}
	var infos []domain.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return infos, nil
}

func printSessions(w io.Writer, infos []domain.SessionInfo, asJSON bool) error {
	if asJSON {
		if infos == nil {
			infos = []domain.SessionInfo{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "no plugin sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVE\tFILE KEY\tFILE NAME\tPAGE\tSTATE\tCONNECTED")
	for _, s := range infos {
		active := ""
		if s.IsActive {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", active, s.FileKey, s.FileName, s.CurrentPage, s.State, s.ConnectedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
