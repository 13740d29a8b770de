// Command localkartctl administers a LocalKart deployment through its REST API.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nashiklocalkart/localkart/engine/assistant"
	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/env"
)

var Version = "dev"

// globals are the persistent flags shared by every subcommand.
type globals struct {
	api     string
	as      int
	json    bool
	timeout time.Duration
}

func (g *globals) client() *client { return newClient(g.api, g.as, g.timeout) }

func (g *globals) admin() (*client, error) {
	if g.as <= 0 {
		return nil, errors.New("admin commands need --as <admin user id> (or LOCALKART_AS)")
	}
	return g.client(), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "localkartctl",
		Short:         "Administer the Nashik LocalKart marketplace",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.api, "api", env.Or("LOCALKART_API", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().IntVar(&g.as, "as", env.Int("LOCALKART_AS", 0), "acting admin user id")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "print raw JSON")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(vendorsCmd(g), usersCmd(g), snapshotCmd(g), chatCmd(g))
	return root
}

func vendorsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendors",
		Short: "List and moderate vendor listings",
	}

	var status, category, area string
	list := &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"status": status, "category": category, "area": area} {
				if v != "" {
					q.Set(k, v)
				}
			}
			vendors, err := g.client().ListVendors(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printVendors(cmd.OutOrStdout(), g.json, vendors)
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	list.Flags().StringVar(&category, "category", "", "exact category")
	list.Flags().StringVar(&area, "area", "", "area substring")

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List vendors awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.admin()
			if err != nil {
				return err
			}
			vendors, err := c.PendingVendors(cmd.Context())
			if err != nil {
				return err
			}
			return printVendors(cmd.OutOrStdout(), g.json, vendors)
		},
	}

	cmd.AddCommand(list, pending,
		decideCmd(g, "approve", domain.StatusApproved),
		decideCmd(g, "reject", domain.StatusRejected),
	)
	return cmd
}

func decideCmd(g *globals, verb string, status domain.VendorStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <vendor-id>",
		Short: fmt.Sprintf("Mark a pending vendor %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid vendor id %q", args[0])
			}
			c, err := g.admin()
			if err != nil {
				return err
			}
			v, err := c.SetVendorStatus(cmd.Context(), id, status)
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vendor %d (%s) is now %s\n", v.ID, v.ShopName, v.Status)
			return nil
		},
	}
}

func usersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := g.client().ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), users)
			}
			rows := make([][]string, len(users))
			for i, u := range users {
				rows[i] = []string{strconv.Itoa(u.ID), u.Name, u.Email, string(u.Type)}
			}
			return printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "EMAIL", "TYPE"}, rows)
		},
	})
	return cmd
}

func snapshotCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Export the catalog to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.admin()
			if err != nil {
				return err
			}
			info, err := c.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d vendors to s3://%s/%s (%d bytes)\n", info.Vendors, info.Bucket, info.Key, info.Size)
			return nil
		},
	}
}

func chatCmd(g *globals) *cobra.Command {
	var (
		raw      bool
		lat, lng float64
	)
	cmd := &cobra.Command{
		Use:   "chat <prompt...>",
		Short: "Ask the shopping assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var loc *assistant.Coordinates
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				loc = &assistant.Coordinates{Latitude: lat, Longitude: lng}
			}
			reply, err := g.client().Chat(cmd.Context(), strings.Join(args, " "), loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, reply)
			}
			text := reply.Text
			if !raw {
				if rendered, err := renderMarkdown(text); err == nil {
					text = rendered
				}
			}
			fmt.Fprintln(out, strings.TrimRight(text, "\n"))
			for _, s := range sources(reply.Grounding) {
				fmt.Fprintf(out, "  [%s] %s\n", s.Title, s.URI)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the reply without markdown rendering")
	cmd.Flags().Float64Var(&lat, "lat", 0, "your latitude, for map grounding")
	cmd.Flags().Float64Var(&lng, "lng", 0, "your longitude, for map grounding")
	return cmd
}

func renderMarkdown(text string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

// sources flattens grounding chunks into the links worth printing.
func sources(chunks []assistant.GroundingChunk) []assistant.GroundingSource {
	var out []assistant.GroundingSource
	for _, c := range chunks {
		for _, s := range []*assistant.GroundingSource{c.Web, c.Maps} {
			if s != nil && s.URI != "" {
				out = append(out, *s)
			}
		}
	}
	return out
}

func printVendors(w io.Writer, asJSON bool, vendors []domain.Vendor) error {
	if asJSON {
		return printJSON(w, vendors)
	}
	if len(vendors) == 0 {
		_, err := fmt.Fprintln(w, "no vendors")
		return err
	}
	rows := make([][]string, len(vendors))
	for i, v := range vendors {
		rows[i] = []string{strconv.Itoa(v.ID), v.ShopName, v.Category, v.Address, string(v.Status)}
	}
	return printTable(w, []string{"ID", "SHOP", "CATEGORY", "ADDRESS", "STATUS"}, rows)
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

