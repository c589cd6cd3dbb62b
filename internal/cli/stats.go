package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"lessonforge/pkg/config"
	"lessonforge/pkg/fixmemory"
	"lessonforge/pkg/metrics"
	"lessonforge/pkg/persistence"
)

func newStatsCommand(root *rootOptions) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fix memory statistics and, with --job, model usage from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			db, err := persistence.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			st := fixmemory.New(db, cfg.Pipeline.UseFixMemory).Stats(ctx)

			fmt.Fprintln(out, titleStyle.Render("Fix memory"))
			kv(out, "enabled", st.Enabled)
			if st.Error != "" {
				kv(out, "error", errorStyle.Render(st.Error))
			}
			kv(out, "error fixes", st.ErrorFixes)
			kv(out, "generations", st.Generations)
			kv(out, "total commits", st.TotalCommits)
			if len(st.TopSignatures) > 0 {
				rows := make([][]string, 0, len(st.TopSignatures))
				for _, s := range st.TopSignatures {
					rows = append(rows, []string{s.Signature, s.ErrorKind, strconv.Itoa(s.SuccessCount)})
				}
				fmt.Fprintln(out, renderTable([]string{"SIGNATURE", "ERROR", "REUSED"}, rows, -1))
			}

			if jobID == "" {
				return nil
			}
			qs, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
			if err != nil {
				return err
			}
			total, err := qs.GetJobMetrics(ctx, jobID)
			if err != nil {
				return fmt.Errorf("failed to query model usage: %w", err)
			}
			byStage, err := qs.GetJobMetricsByStage(ctx, jobID)
			if err != nil {
				return fmt.Errorf("failed to query model usage: %w", err)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, titleStyle.Render("Model usage for "+jobID))
			stages := make([]string, 0, len(byStage))
			for stage := range byStage {
				stages = append(stages, stage)
			}
			sort.Strings(stages)
			rows := make([][]string, 0, len(stages)+1)
			for _, stage := range stages {
				rows = append(rows, usageRow(stage, byStage[stage]))
			}
			rows = append(rows, usageRow("total", total))
			fmt.Fprintln(out, renderTable([]string{"STAGE", "PROMPT", "COMPLETION", "TOTAL", "COST (USD)"}, rows, -1))
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id to report model usage for")
	return cmd
}

func usageRow(label string, m *metrics.JobMetrics) []string {
	return []string{
		label,
		strconv.FormatInt(m.PromptTokens, 10),
		strconv.FormatInt(m.CompletionTokens, 10),
		strconv.FormatInt(m.TotalTokens, 10),
		fmt.Sprintf("%.4f", m.TotalCost),
	}
}
