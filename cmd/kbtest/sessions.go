package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"kbtest/internal/store"
)

// SessionsCmd groups stored session subcommands.
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" help:"List stored sessions, newest first."`
	Show   SessionsShowCmd   `cmd:"" help:"Print the report of a stored session."`
	Delete SessionsDeleteCmd `cmd:"" help:"Delete a stored session."`
	Verify SessionsVerifyCmd `cmd:"" help:"Check a capture file against a stored session."`
	DB     SessionsDBCmd     `cmd:"" name:"db" help:"Inspect or downgrade the session database schema."`
}

func openStore(app *App) (*store.Store, error) {
	return store.Open(app.Config.StoragePath(), store.WithBusyTimeout(app.Config.BusyTimeout()))
}

// SessionsListCmd lists sessions.
type SessionsListCmd struct {
	Limit int  `short:"n" help:"Maximum number of sessions (0 for all)." default:"20"`
	JSON  bool `help:"Print as JSON."`
}

// Run is called by kong for "kbtest sessions list".
func (c *SessionsListCmd) Run(app *App) error {
	st, err := openStore(app)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions(context.Background(), c.Limit)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}
	fmt.Printf("%-8s %-19s %9s %7s %9s  %-10s %s\n",
		"ID", "STARTED", "DURATION", "PRESSES", "ANOMALIES", "EXIT", "DEVICE")
	for _, s := range sessions {
		exit := s.ExitReason
		if exit == "" {
			exit = "-"
		}
		device := s.Device
		if device == "" {
			device = "-"
		}
		fmt.Printf("%-8s %-19s %8.1fs %7d %9d  %-10s %s\n",
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Duration().Seconds(),
			s.Pressed,
			s.Anomalies,
			exit,
			device)
	}
	return nil
}

// SessionsShowCmd prints a stored report.
type SessionsShowCmd struct {
	ID        string `arg:"" help:"Session id or unique prefix."`
	JSON      bool   `help:"Print as JSON."`
	Anomalies bool   `help:"Only list the anomalies."`
	Kind      string `help:"With --anomalies, only this anomaly kind."`
}

// Run is called by kong for "kbtest sessions show".
func (c *SessionsShowCmd) Run(app *App) error {
	st, err := openStore(app)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	id, err := st.ResolveID(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.Anomalies {
		rows, err := st.ListAnomalies(ctx, id, store.AnomalyFilter{Kind: c.Kind})
		if err != nil {
			return err
		}
		if c.JSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		for _, a := range rows {
			key := a.KeyName
			if key == "" {
				key = "-"
			}
			fmt.Printf("%s  %-18s %-11s %s\n", a.Timestamp.Local().Format("15:04:05.000"), a.Kind, key, a.Detail)
		}
		return nil
	}

	r, err := st.LoadReport(ctx, id)
	if err != nil {
		return err
	}
	return printReport(os.Stdout, r, formatFlag(c.JSON, app.Config.Report.Format))
}

// SessionsDeleteCmd removes a stored session.
type SessionsDeleteCmd struct {
	ID string `arg:"" help:"Session id or unique prefix."`
}

// Run is called by kong for "kbtest sessions delete".
func (c *SessionsDeleteCmd) Run(app *App, logger *slog.Logger) error {
	st, err := openStore(app)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	id, err := st.ResolveID(ctx, c.ID)
	if err != nil {
		return err
	}
	deleted, err := st.DeleteSession(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	logger.Info("session deleted", "id", id)
	fmt.Printf("Deleted %s\n", id)
	return nil
}

// SessionsVerifyCmd compares a capture with the digest stored for a session.
type SessionsVerifyCmd struct {
	ID      string `arg:"" help:"Session id or unique prefix."`
	Capture string `arg:"" help:"Hex capture saved with run --save." type:"existingfile"`
}

// Run is called by kong for "kbtest sessions verify".
func (c *SessionsVerifyCmd) Run(app *App) error {
	data, err := os.ReadFile(c.Capture)
	if err != nil {
		return err
	}

	st, err := openStore(app)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	id, err := st.ResolveID(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := st.VerifyCapture(ctx, id, data); err != nil {
		return err
	}
	digest := store.CaptureDigest(data)
	fmt.Printf("%s: capture matches (blake2b-256 %s)\n", shortID(id), hex.EncodeToString(digest[:8]))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatFlag(asJSON bool, fallback string) string {
	if asJSON {
		return "json"
	}
	return fallback
}

// SessionsDBCmd groups schema maintenance subcommands.
type SessionsDBCmd struct {
	Status   SessionsDBStatusCmd   `cmd:"" help:"Show applied and pending schema migrations."`
	Rollback SessionsDBRollbackCmd `cmd:"" help:"Revert schema migrations, for use with an older kbtest."`
}

func openStoreAsIs(app *App) (*store.Store, error) {
	return store.Open(app.Config.StoragePath(),
		store.WithBusyTimeout(app.Config.BusyTimeout()),
		store.WithoutMigrations())
}

// SessionsDBStatusCmd prints the schema version.
type SessionsDBStatusCmd struct {
	JSON bool `help:"Print as JSON."`
}

// Run is called by kong for "kbtest sessions db status".
func (c *SessionsDBStatusCmd) Run(app *App) error {
	st, err := openStoreAsIs(app)
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := st.SchemaStatus(context.Background())
	if err != nil {
		return err
	}
	return printSchemaStatus(os.Stdout, st.Path(), status, c.JSON)
}

func printSchemaStatus(w io.Writer, path string, status *store.SchemaStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(w, "Database: %s\n", path)
	fmt.Fprintf(w, "Schema:   version %d of %d\n", status.Current, status.Latest)
	for _, m := range status.Applied {
		fmt.Fprintf(w, "  applied  %2d  %s  %s\n", m.Version, m.AppliedAt.Local().Format("2006-01-02 15:04:05"), m.Description)
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "  pending  %2d  %-19s  %s\n", m.Version, "-", m.Description)
	}
	if status.Problem != "" {
		fmt.Fprintf(w, "Problem:  %s\n", status.Problem)
	}
	return nil
}

// SessionsDBRollbackCmd reverts migrations.
type SessionsDBRollbackCmd struct {
	To    int  `help:"Target schema version; negative means one step back." default:"-1"`
	Force bool `help:"Allow reverting the initial schema, which deletes every stored session."`
}

// Run is called by kong for "kbtest sessions db rollback".
func (c *SessionsDBRollbackCmd) Run(app *App, logger *slog.Logger) error {
	st, err := openStoreAsIs(app)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	status, err := st.SchemaStatus(ctx)
	if err != nil {
		return err
	}
	to := c.To
	if to < 0 {
		to = max(status.Current-1, 0)
	}
	if to <= 0 && status.Current > 0 && !c.Force {
		return errors.New("rolling back to version 0 deletes every stored session; use --force")
	}

	reverted, err := st.Rollback(ctx, to)
	for _, v := range reverted {
		logger.Info("schema migration reverted", "version", v, "path", st.Path())
		fmt.Printf("Reverted migration %d\n", v)
	}
	return err
}
