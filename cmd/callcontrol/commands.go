package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hamzaKhattat/pbx-call-control/internal/health"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// initializeForCLI loads config and opens storage for one command run.
func initializeForCLI(ctx context.Context) (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	svc, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}
	return svc, nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}

func createMenuCommands() *cobra.Command {
	menuCmd := &cobra.Command{
		Use:   "menus",
		Short: "Inspect IVR menus",
	}

	menuCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List IVR menus",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := context.Background()
				svc, err := initializeForCLI(ctx)
				if err != nil {
					return err
				}
				defer svc.close()

				menus, err := svc.store.FindAllMenus(ctx)
				if err != nil {
					return fmt.Errorf("failed to list menus: %v", err)
				}
				if len(menus) == 0 {
					fmt.Println("No menus configured")
					return nil
				}

				table := newTable("ID", "Name", "Welcome", "Timeout", "Retries")
				for _, m := range menus {
					table.Append([]string{
						strconv.FormatInt(m.ID, 10),
						m.Name,
						m.WelcomePrompt,
						fmt.Sprintf("%ds", m.TimeoutSeconds),
						strconv.Itoa(m.MaxRetries),
					})
				}
				table.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show a menu and its options",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid menu id %q", args[0])
				}

				ctx := context.Background()
				svc, err := initializeForCLI(ctx)
				if err != nil {
					return err
				}
				defer svc.close()

				menu, err := svc.store.FindMenuWithOptions(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to load menu: %v", err)
				}
				if menu == nil {
					return fmt.Errorf("menu %d not found", id)
				}

				fmt.Printf("%s %s (#%d)\n", bold("Menu:"), menu.Name, menu.ID)
				fmt.Printf("  Welcome: %s\n  Invalid: %s\n  Timeout: %s (%ds, %d retries)\n\n",
					menu.WelcomePrompt, menu.InvalidPrompt, menu.TimeoutPrompt,
					menu.TimeoutSeconds, menu.MaxRetries)

				table := newTable("Key", "Action", "Destination", "Trunk")
				for _, opt := range menu.Options {
					trunk := ""
					if opt.UsesTrunk() {
						trunk = fmt.Sprintf("#%d %s", *opt.TrunkID, opt.TrunkNumber)
					}
					table.Append([]string{opt.Key, string(opt.Action), opt.Destination, trunk})
				}
				table.Render()
				return nil
			},
		},
	)

	return menuCmd
}

func createRouteCommands() *cobra.Command {
	routeCmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect inbound routing rules",
	}

	routeCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, err := initializeForCLI(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			rules, err := svc.store.ListRoutingRules(ctx)
			if err != nil {
				return fmt.Errorf("failed to list routes: %v", err)
			}

			table := newTable("ID", "Dialed", "Target", "Target ID", "Status")
			for _, r := range rules {
				table.Append([]string{
					strconv.FormatInt(r.ID, 10),
					r.DialedNumber,
					string(r.TargetType),
					r.TargetID,
					formatEnabled(r.Enabled),
				})
			}
			table.Render()
			return nil
		},
	})

	return routeCmd
}

func createTrunkCommands() *cobra.Command {
	trunkCmd := &cobra.Command{
		Use:   "trunks",
		Short: "Inspect outbound trunks",
	}

	trunkCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, err := initializeForCLI(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			trunks, err := svc.store.ListTrunks(ctx)
			if err != nil {
				return fmt.Errorf("failed to list trunks: %v", err)
			}

			table := newTable("ID", "Name", "Host", "Status")
			for _, t := range trunks {
				table.Append([]string{strconv.FormatInt(t.ID, 10), t.Name, t.Host, formatEnabled(t.Enabled)})
			}
			table.Render()
			return nil
		},
	})

	return trunkCmd
}

func createCallsCommands() *cobra.Command {
	callsCmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect calls",
	}

	var limit int
	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent call logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, err := initializeForCLI(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			logs, err := svc.store.RecentCallLogs(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to get call logs: %v", err)
			}
			if len(logs) == 0 {
				fmt.Println("No calls logged")
				return nil
			}

			table := newTable("ID", "Direction", "Caller", "Dialed", "Disposition", "Destination", "Digits", "Duration", "Started")
			for _, l := range logs {
				table.Append([]string{
					strconv.FormatInt(l.ID, 10),
					string(l.Direction),
					l.CallerNumber,
					l.DialedNumber,
					formatDisposition(l.Disposition),
					l.Destination,
					l.PressedDigits,
					formatDuration(time.Duration(l.DurationSeconds) * time.Second),
					l.StartedAt.Format("2006-01-02 15:04:05"),
				})
			}
			table.Render()
			return nil
		},
	}
	recentCmd.Flags().IntVar(&limit, "limit", 20, "Number of calls to show")

	var endpoint string
	activeCmd := &cobra.Command{
		Use:   "active",
		Short: "Show calls in progress on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpoint == "" {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %v", err)
				}
				endpoint = fmt.Sprintf("http://127.0.0.1:%d", cfg.Monitoring.Health.Port)
			}

			calls, err := fetchActiveCalls(cmd.Context(), endpoint)
			if err != nil {
				return err
			}
			if len(calls) == 0 {
				fmt.Println("No active calls")
				return nil
			}

			table := newTable("Call ID", "Direction", "Channel", "Caller", "Dialed", "Duration")
			for _, c := range calls {
				table.Append([]string{
					c.CallID,
					string(c.Direction),
					c.Channel,
					c.CallerID,
					c.DialedNumber,
					formatDuration(time.Duration(c.ElapsedSeconds) * time.Second),
				})
			}
			table.Render()

			fmt.Printf("\nTotal active calls: %d\n", len(calls))
			return nil
		},
	}
	activeCmd.Flags().StringVar(&endpoint, "endpoint", "", "Health endpoint base URL (default from config)")

	callsCmd.AddCommand(recentCmd, activeCmd)
	return callsCmd
}

func fetchActiveCalls(ctx context.Context, endpoint string) ([]health.CallView, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/calls", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var calls []health.CallView
	if err := json.NewDecoder(resp.Body).Decode(&calls); err != nil {
		return nil, fmt.Errorf("invalid response: %v", err)
	}
	return calls, nil
}

func formatEnabled(b bool) string {
	if b {
		return green("Enabled")
	}
	return red("Disabled")
}

func formatDisposition(d models.Disposition) string {
	switch d {
	case models.DispositionCompleted, models.DispositionConnected, models.DispositionAnswered:
		return green(string(d))
	case models.DispositionError:
		return red(string(d))
	default:
		return yellow(string(d))
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
