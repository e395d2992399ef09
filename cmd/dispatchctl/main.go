// Command dispatchctl runs one-off maintenance against the dispatch
// database: migrations, a manual critical sweep, Booking.com sync and
// connection checks, ride listings and API tokens for testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/bookingcom"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/sweeper"
)

func main() {
	if err := newRootCmd(viper.New(), os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cli struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	c := &cli{v: v, out: out}
	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Ride dispatch maintenance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	pf := root.PersistentFlags()
	pf.String("db-driver", "sqlite", "database driver (sqlite or postgres)")
	pf.String("db-dsn", "ride-dispatch.db", "database DSN or sqlite file path")
	pf.String("pricing-file", "", "pricing YAML file")
	pf.String("log-level", "warn", "log level")
	pf.Bool("json", false, "output JSON")
	for _, name := range []string{"db-driver", "db-dsn", "pricing-file", "log-level", "json"} {
		_ = v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(c.migrateCmd(), c.sweepCmd(), c.bookingCmd(), c.ridesCmd(), c.tokenCmd())
	return root
}

func (c *cli) logger() *slog.Logger {
	return logging.New(os.Stderr, c.v.GetString("log-level"))
}

func (c *cli) withDB(ctx context.Context, fn func(ctx context.Context, db *storage.DB) error) error {
	db, err := storage.Open(c.v.GetString("db-driver"), c.v.GetString("db-dsn"))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func (c *cli) withEngine(ctx context.Context, fn func(ctx context.Context, db *storage.DB, e *lifecycle.Engine) error) error {
	return c.withDB(ctx, func(ctx context.Context, db *storage.DB) error {
		return fn(ctx, db, lifecycle.New(db, events.Nop{}, c.logger()))
	})
}

func (c *cli) pricing() (*pricing.Table, error) {
	path := c.v.GetString("pricing-file")
	if path == "" {
		return pricing.Default(), nil
	}
	p, err := config.LoadPricing(path)
	if err != nil {
		return nil, err
	}
	return pricing.FromConfig(p)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd.Context(), func(ctx context.Context, db *storage.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				version, err := db.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "schema at version %d\n", version)
				return nil
			})
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Escalate unassigned rides starting within the critical window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, _ *storage.DB, e *lifecycle.Engine) error {
				n, err := sweeper.New(e, 0, window, c.logger()).Sweep(ctx)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]int{"escalated": n})
				}
				fmt.Fprintf(c.out, "%d rides escalated to critical\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", sweeper.DefaultWindow, "escalate rides scheduled within this window")
	return cmd
}

func (c *cli) bookingCmd() *cobra.Command {
	booking := &cobra.Command{Use: "booking", Short: "Booking.com integration"}
	run := func(fn func(ctx context.Context, svc *bookingcom.Service) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			tbl, err := c.pricing()
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, db *storage.DB, e *lifecycle.Engine) error {
				res, err := fn(ctx, bookingcom.NewService(db, e, bookingcom.NewClient(), tbl, c.logger()))
				if err != nil {
					return err
				}
				return c.printJSON(res)
			})
		}
	}
	booking.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Import new bookings from Booking.com",
			RunE: run(func(ctx context.Context, svc *bookingcom.Service) (any, error) {
				return svc.Sync(ctx)
			}),
		},
		&cobra.Command{
			Use:   "test",
			Short: "Check the stored Booking.com credentials",
			RunE: run(func(ctx context.Context, svc *bookingcom.Service) (any, error) {
				return svc.TestConnection(ctx)
			}),
		},
		&cobra.Command{
			Use:   "config",
			Short: "Show the Booking.com configuration with secrets masked",
			RunE: run(func(ctx context.Context, svc *bookingcom.Service) (any, error) {
				return svc.Config(ctx)
			}),
		},
	)
	return booking
}

func (c *cli) ridesCmd() *cobra.Command {
	rides := &cobra.Command{Use: "rides", Short: "Inspect rides"}
	var (
		status, source, driver string
		limit                  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List rides, newest scheduled first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := models.RideFilter{DriverID: driver, SourcePlatform: source, Limit: limit}
			if status != "" {
				st, err := models.ParseRideStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, _ *storage.DB, e *lifecycle.Engine) error {
				found, err := e.List(ctx, lifecycle.System, f)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(found)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"ID", "Source", "Status", "Scheduled", "Pickup", "Driver", "Price"})
				for _, r := range found {
					price := ""
					if r.Price.Valid {
						price = r.Price.Decimal.StringFixed(2)
					}
					tw.AppendRow(table.Row{r.ID, r.SourcePlatform, r.Status, r.ScheduledAt.Format(time.RFC3339), r.PickupAddress, r.DriverID, price})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(found)})
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().StringVar(&source, "source", "", "source platform filter")
	list.Flags().StringVar(&driver, "driver-id", "", "driver filter")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	rides.AddCommand(list)
	return rides
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		userID, role string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := auth.NewIssuer(c.v.GetString("jwt-secret"), ttl)
			if err != nil {
				return err
			}
			tok, err := issuer.Issue(auth.Principal{UserID: userID, Role: models.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, tok)
			return nil
		},
	}
	cmd.Flags().String("jwt-secret", "", "HMAC secret shared with the server")
	_ = c.v.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
