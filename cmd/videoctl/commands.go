package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jangbersahaja/fishon-captain-sub003/cmd/web/auth"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/reaper"
	"github.com/jangbersahaja/fishon-captain-sub003/internal/videos"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <video-id>",
	Short: "Print a video record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rec, err := e.store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records in a status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := videos.Status(mustString(cmd, "status"))
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		recs, err := e.store.ListByStatus(cmd.Context(), status, time.Now().UTC(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail records stuck in processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		if timeout <= 0 {
			timeout = e.conf.ProcessingTimeout
		}
		n, err := reaper.New(e.store, nil, timeout, 0).ReapStuck(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "failed %d stuck record(s)\n", n)
		return nil
	},
}

var redispatchCmd = &cobra.Command{
	Use:   "redispatch",
	Short: "Dispatch queued records again",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		d, runner, err := e.dispatcher(cmd.Context())
		if err != nil {
			return err
		}
		defer runner.Close()
		defer d.Close()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		limit, _ := cmd.Flags().GetInt("limit")
		n, err := d.RedispatchQueued(cmd.Context(), time.Now().UTC().Add(-olderThan), limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d record(s) via %s\n", n, d.Backend().Name())
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <video-id>",
	Short: "Move a failed record back to the queue and dispatch it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rec, err := e.store.Modify(cmd.Context(), args[0], func(r *videos.Record) error {
			return r.Requeue(time.Now().UTC())
		})
		if err != nil {
			return err
		}

		if noDispatch, _ := cmd.Flags().GetBool("no-dispatch"); !noDispatch {
			d, runner, err := e.dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			defer runner.Close()
			defer d.Close()
			if rec, err = d.Dispatch(cmd.Context(), rec.ID); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <captain-id>",
	Short: "Issue an API bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadWorkerConfig(cmd.Context())
		if err != nil {
			return err
		}
		admin, _ := cmd.Flags().GetBool("admin")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		tok, err := issueToken(conf.AuthTokenSecret, args[0], admin, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", string(videos.StatusQueued), "queued, processing, ready or failed")
	listCmd.Flags().Int("limit", 50, "maximum records")
	reapCmd.Flags().Duration("timeout", 0, "processing age to fail; defaults to PROCESSING_TIMEOUT")
	redispatchCmd.Flags().Duration("older-than", 0, "only records queued at least this long")
	redispatchCmd.Flags().Int("limit", reaper.DefaultBatchSize, "maximum records")
	requeueCmd.Flags().Bool("no-dispatch", false, "requeue without dispatching")
	tokenCmd.Flags().Bool("admin", false, "issue an admin token")
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")

	rootCmd.AddCommand(showCmd, listCmd, reapCmd, redispatchCmd, requeueCmd, tokenCmd)
}

func issueToken(secret, captainID string, admin bool, ttl time.Duration) (string, error) {
	tokens := auth.NewTokens(secret)
	if tokens == nil {
		return "", fmt.Errorf("AUTH_TOKEN_SECRET is not set")
	}
	level := auth.AccessUser
	if admin {
		level = auth.AccessAdmin
	}
	return tokens.Issue(captainID, level, ttl)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
