package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Upload pipeline conversions to Google Ads",
	Long: `Reads every deal and contact from the CRM, turns deals in conversion-worthy
stages (MQL, SQL, APPLIED, DECISION_MAKING, ENROLLED) into hashed offline
conversions, and uploads them to Google Ads. When credentials are missing or
the upload fails, a CSV for manual upload is written instead.

Examples:
  # Preview today's batch without uploading or writing anything
  reconcile --dry-run

  # Only report enrolments
  reconcile --stage=ENROLLED`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		stageFlag, _ := cmd.Flags().GetString("stage")

		opts := reconcile.Options{DryRun: dryRun}
		if stageFlag != "" {
			st, err := parseStageFlag(stageFlag)
			if err != nil {
				return err
			}
			opts.Stage = &st
		}

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tables, err := loadTables(cfg.Routing)
		if err != nil {
			return err
		}
		crmStore, err := initCRM(cfg, tables)
		if err != nil {
			return err
		}

		timeout := time.Duration(cfg.Ads.TimeoutSecs) * time.Second
		exporter, err := initExporter(cfg.Reconcile, timeout)
		if err != nil {
			return err
		}

		m, _ := newMetrics(cfg.Metrics, nil)
		jobOpts := []reconcile.JobOption{
			reconcile.WithStore(st),
			reconcile.WithBreaker(newBreakers(m).Get("googleads")),
			reconcile.WithMetrics(m),
		}
		if up := initUploader(cfg.Ads); up != nil {
			jobOpts = append(jobOpts, reconcile.WithUploader(up))
		}

		job := reconcile.NewJob(crmStore, exporter, reconcile.Config{
			BaselineValue:  cfg.Reconcile.BaselineValue,
			Currency:       cfg.Reconcile.Currency,
			PageSize:       cfg.Reconcile.PageSize,
			LogDir:         cfg.Reconcile.LogDir,
			PersistMarkers: cfg.Reconcile.PersistMarkers,
		}, jobOpts...)

		res, err := job.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		if dryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatUploadResult(os.Stdout, res)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("dry-run", false, "compute and print the batch without uploading or writing files")
	reconcileCmd.Flags().String("stage", "", "only reconcile one stage ("+conversionStageNames()+")")
	rootCmd.AddCommand(reconcileCmd)
}

// parseStageFlag accepts only conversion-worthy stages.
func parseStageFlag(v string) (model.Stage, error) {
	st, err := model.ParseStage(v)
	if err != nil {
		return model.StageUnknown, eris.Wrapf(err, "--stage: want one of %s", conversionStageNames())
	}
	if !slices.Contains(model.ConversionWorthyStages, st) {
		return model.StageUnknown, eris.Errorf("--stage: %s does not produce conversions, want one of %s", st, conversionStageNames())
	}
	return st, nil
}

func conversionStageNames() string {
	names := make([]string, len(model.ConversionWorthyStages))
	for i, s := range model.ConversionWorthyStages {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}

// formatUploadResult writes a run summary to w.
func formatUploadResult(out io.Writer, res *model.UploadResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	actions := make([]string, 0, len(res.ByType))
	for a := range res.ByType {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	_, _ = fmt.Fprintln(w, "CONVERSION\tCOUNT\tVALUE")
	_, _ = fmt.Fprintln(w, "----------\t-----\t-----")
	for _, a := range actions {
		s := res.ByType[a]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.0f\n", a, s.Count, s.Value)
	}
	_, _ = fmt.Fprintln(w)

	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", res.Mode)
	_, _ = fmt.Fprintf(w, "Conversions:\t%d\n", len(res.Conversions))
	_, _ = fmt.Fprintf(w, "Total value:\t%.0f\n", res.TotalValue)
	if res.Mode == model.UploadModeAPI || res.Mode == model.UploadModeMixed {
		_, _ = fmt.Fprintf(w, "Uploaded:\t%d\n", res.Uploaded)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
	}
	if res.File != "" {
		_, _ = fmt.Fprintf(w, "File:\t%s\n", res.File)
	}
	if res.AlreadySent > 0 {
		_, _ = fmt.Fprintf(w, "Already sent:\t%d\n", res.AlreadySent)
	}
	if len(res.Skipped) > 0 {
		_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", len(res.Skipped))
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "Upload error:\t%s\n", res.Error)
	}
	_ = w.Flush()
}
