package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"tariffsync/internal/auth"
	"tariffsync/internal/dedup"
	httpx "tariffsync/internal/http"
	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"
	"tariffsync/internal/report"

	"github.com/spf13/cobra"
)

func init() {
	workerCmd.Flags().Bool("once", false, "process at most one job and exit")

	exportCmd.Flags().StringP("out", "o", "jobs.xlsx", "output file")
	exportCmd.Flags().StringP("status", "s", "", "only jobs with this status")
	exportCmd.Flags().Int("limit", 500, "maximum number of jobs")

	tokenCmd.Flags().String("subject", "", "token subject (operator name)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and a background worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()
		a.listen(ctx)

		var jwtSvc *auth.JWT
		if a.cfg.OpsJWTSecret != "" {
			jwtSvc = auth.NewJWT(a.cfg.OpsJWTSecret)
		} else {
			logger.Warnf("OPS_JWT_SECRET not set, ops routes are unauthenticated")
		}
		r := httpx.NewRouter(a.cfg, httpx.Deps{
			DB:     a.db,
			Repo:   a.repo,
			Dedup:  dedup.New(a.cfg.DedupTTL),
			Worker: a.worker,
			Podio:  a.podio,
			JWT:    jwtSvc,

			Classifier: a.proc.Classifier,
			Extractor:  a.proc.Documents.Extractor,
		})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.worker.Run(ctx)
		}()

		srv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Infof("listening on %s", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err = <-errCh:
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		wg.Wait()
		return err
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker without the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		once, _ := cmd.Flags().GetBool("once")
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		if once {
			job, err := a.worker.RunOnce(ctx)
			if err != nil {
				return err
			}
			if job == nil {
				fmt.Println("no queued jobs")
				return nil
			}
			return printJSON(job)
		}
		a.listen(ctx)
		a.worker.Run(ctx)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <itemId>",
	Short: "Admit a job for one item and process it now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		ctx, cancel := signalContext()
		defer cancel()

		payload, _ := json.Marshal(map[string]any{"item_id": itemID})
		job := &jobs.Job{SourceItemID: itemID, Source: jobs.SourceCLI, Payload: payload}
		if err := a.repo.Enqueue(ctx, job); err != nil {
			return err
		}
		claimed, err := a.repo.ClaimID(ctx, job.ID, a.cfg.Worker.ID, a.cfg.Worker.Lease)
		if err != nil {
			return err
		}
		done, err := a.worker.Process(ctx, claimed)
		if err != nil {
			return err
		}
		return printJSON(done)
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check Podio credentials and print token info",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		tok, err := newPodio(cfg).Authenticate(cmd.Context())
		if err != nil {
			return err
		}
		out := map[string]any{"expires_in": tok.ExpiresIn, "token_prefix": prefix(tok.AccessToken, 8)}
		if tok.Ref != nil {
			out["ref"] = tok.Ref
		}
		return printJSON(out)
	},
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var filesCmd = &cobra.Command{
	Use:   "files <itemId>",
	Short: "List an item's attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		item, err := newPodio(cfg).GetItem(cmd.Context(), itemID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"item_id": item.ItemID, "app_id": item.App.AppID, "files": item.Files})
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <jobId>",
	Short: "Queue a new job for the item of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		job, err := a.repo.Requeue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var hookValidateCmd = &cobra.Command{
	Use:   "hook-validate <hookId> <code>",
	Short: "Complete a Podio hook verification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hookID, err := parseID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if err := newPodio(cfg).ValidateHook(cmd.Context(), hookID, args[1]); err != nil {
			return err
		}
		fmt.Printf("hook %d validated\n", hookID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write job history to an xlsx file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		f := jobs.ListFilter{Limit: limit}
		if status != "" {
			st, ok := jobs.ParseStatus(status)
			if !ok {
				return fmt.Errorf("invalid status %q", status)
			}
			f.Status = st
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		data, err := (&report.Exporter{Repo: a.repo}).ExportXLSX(cmd.Context(), f)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the ops routes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.OpsJWTSecret == "" {
			return errors.New("OPS_JWT_SECRET is not set")
		}
		tok, err := auth.NewJWT(cfg.OpsJWTSecret).Sign(subject, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}
