package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/yelinaung/finmail/internal/config"
	"gitlab.com/yelinaung/finmail/internal/database"
	"gitlab.com/yelinaung/finmail/internal/models"
	"gitlab.com/yelinaung/finmail/internal/pipeline"
	"gitlab.com/yelinaung/finmail/internal/report"
)

const dateFlagLayout = "2006-01-02"

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, getConfig func() *config.Config, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd.Context(), getConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func newMigrateCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig()
			if !cfg.HasDatabase() {
				return errors.New("DATABASE_URL is required")
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			if err := database.RunMigrations(cmd.Context(), pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
			return nil
		},
	}
}

func newProcessCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		sessionID string
		owner     string
		from      string
		after     string
		keywords  []string
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Search the inbox and extract financial records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria := pipeline.Criteria{Keywords: keywords, From: from}
			if after != "" {
				t, err := time.Parse(dateFlagLayout, after)
				if err != nil {
					return fmt.Errorf("invalid --after date %q: %w", after, err)
				}
				criteria.After = t
			}

			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				if err := a.requireInbox(); err != nil {
					return err
				}
				res, err := a.pipeline.Process(ctx, sessionID, owner, criteria)
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s (%s)\n%s\n",
						res.SessionID, res.State, pipeline.FormatSummary(res))
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session to continue (default: start a new one)")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner(), "identity that owns the session")
	cmd.Flags().StringVar(&from, "from", "", "only messages from this sender or domain")
	cmd.Flags().StringVar(&after, "after", "", "only messages received on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "subject keyword (repeatable, default: invoice, order, statement, receipt)")
	return cmd
}

func newPendingCmd(getConfig func() *config.Config) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List records awaiting confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				sess, err := a.coordinator.Snapshot(ctx, sessionID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s (%s), %d pending\n", sess.ID, sess.State, len(sess.Pending))
				if len(sess.Pending) > 0 {
					fmt.Fprintln(out, pipeline.FormatPending(sess.Pending))
				}
				if sess.LastError != "" {
					fmt.Fprintf(out, "Last error: %s\n", sess.LastError)
				}
				return nil
			})
		},
	}
	requireSessionFlag(cmd, &sessionID)
	return cmd
}

func newConfirmCmd(getConfig func() *config.Config) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "confirm PENDING_ID",
		Short: "Confirm a staged record and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				rec, outcome, err := a.coordinator.Confirm(ctx, sessionID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %s (%s).\n", rec.MessageID, outcome)
				return nil
			})
		},
	}
	requireSessionFlag(cmd, &sessionID)
	return cmd
}

func newModifyCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		sessionID string
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "modify PENDING_ID FIELD VALUE",
		Short: "Correct a field of a staged record",
		Long:  "Correct a field of a staged record. Editable fields: " + strings.Join(models.EditableFields, ", ") + ".",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				rec, err := a.coordinator.Modify(ctx, sessionID, args[0], args[1], args[2], reason)
				if err != nil {
					return err
				}
				value, _ := rec.FieldValue(args[1])
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %q.\n", args[1], value)
				for _, an := range rec.Anomalies {
					fmt.Fprintf(cmd.OutOrStdout(), "Warning: %s: %s\n", an.Kind, an.Detail)
				}
				return nil
			})
		},
	}
	requireSessionFlag(cmd, &sessionID)
	cmd.Flags().StringVar(&reason, "reason", "", "why the value was changed")
	return cmd
}

func newRejectCmd(getConfig func() *config.Config) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "reject PENDING_ID",
		Short: "Discard a staged record without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				if err := a.coordinator.Reject(ctx, sessionID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s.\n", args[0])
				return nil
			})
		},
	}
	requireSessionFlag(cmd, &sessionID)
	return cmd
}

type reportFlags struct {
	docType   string
	status    string
	confirmed string
	from      string
	to        string
	csvPath   string
	chartPath string
}

func (f reportFlags) filter() (models.RecordFilter, error) {
	var filter models.RecordFilter
	if f.docType != "" {
		dt, ok := models.ParseDocumentType(f.docType)
		if !ok {
			return filter, fmt.Errorf("%w: unknown document type %q", models.ErrValidation, f.docType)
		}
		filter.DocumentType = &dt
	}
	if f.status != "" {
		st, ok := models.ParseStatus(f.status)
		if !ok {
			return filter, fmt.Errorf("%w: unknown status %q", models.ErrValidation, f.status)
		}
		filter.Status = &st
	}
	if f.confirmed != "" {
		b, err := strconv.ParseBool(f.confirmed)
		if err != nil {
			return filter, fmt.Errorf("%w: --confirmed must be true or false", models.ErrValidation)
		}
		filter.Confirmed = &b
	}
	for _, d := range []struct {
		name  string
		value string
		dst   **time.Time
	}{
		{"--from", f.from, &filter.From},
		{"--to", f.to, &filter.To},
	} {
		if d.value == "" {
			continue
		}
		t, err := time.Parse(dateFlagLayout, d.value)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid %s date %q", models.ErrValidation, d.name, d.value)
		}
		*d.dst = &t
	}
	return filter, nil
}

func newReportCmd(getConfig func() *config.Config) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}

			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				summary, err := a.pipeline.Report(ctx, filter)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.FormatReport(summary))

				if flags.csvPath != "" {
					recs, err := a.records.Query(ctx, filter)
					if err != nil {
						return fmt.Errorf("failed to query records: %w", err)
					}
					data, err := report.RecordsCSV(recs)
					if err != nil {
						return err
					}
					path := outputPath(flags.csvPath, "records", "csv")
					if err := writeOutput(cmd.OutOrStdout(), path, data); err != nil {
						return err
					}
				}

				if flags.chartPath != "" {
					png, err := report.RenderChart(summary, "Totals by document type")
					if errors.Is(err, report.ErrNothingToChart) {
						fmt.Fprintln(cmd.OutOrStdout(), "No converted amounts to chart.")
						return nil
					}
					if err != nil {
						return err
					}
					return writeOutput(cmd.OutOrStdout(), outputPath(flags.chartPath, "chart", "png"), png)
				}
				return nil
			})
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.docType, "type", "", "document type filter")
	fs.StringVar(&flags.status, "status", "", "payment status filter")
	fs.StringVar(&flags.confirmed, "confirmed", "", "confirmation filter (true or false)")
	fs.StringVar(&flags.from, "from", "", "first e-mail date included (YYYY-MM-DD)")
	fs.StringVar(&flags.to, "to", "", "first e-mail date excluded (YYYY-MM-DD)")
	fs.StringVar(&flags.csvPath, "csv", "", "write matching records as CSV to this path")
	fs.StringVar(&flags.chartPath, "chart", "", "write a PNG pie chart of totals to this path")
	fs.Lookup("csv").NoOptDefVal = autoOutput
	fs.Lookup("chart").NoOptDefVal = autoOutput
	return cmd
}

func newReapCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete idle sessions past their expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, getConfig, func(ctx context.Context, a *app) error {
				n, err := a.coordinator.Reap(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired session(s).\n", n)
				return nil
			})
		},
	}
}

// autoOutput asks for a dated file name in the working directory.
const autoOutput = "auto"

func outputPath(flag, prefix, ext string) string {
	if flag == autoOutput {
		return report.Filename(prefix, ext, time.Now())
	}
	return flag
}

func requireSessionFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "session", "", "session ID")
	_ = cmd.MarkFlagRequired("session")
}

func writeOutput(out io.Writer, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes).\n", path, len(data))
	return nil
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
