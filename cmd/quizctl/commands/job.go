package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/cache"
	"github.com/amrrdev/quizscan/internal/repository"
	"github.com/amrrdev/quizscan/internal/types"
	"github.com/spf13/cobra"
)

var jobWatch bool

var jobCmd = &cobra.Command{
	Use:   "job <jobId>",
	Short: "Show a job's status and page states",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	jobCmd.Flags().BoolVarP(&jobWatch, "watch", "w", false, "follow status changes until the job finishes")
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := app.Logger(cfg, "quizctl")

	db, err := app.Database(ctx, cfg, "quizctl", logger)
	if err != nil {
		return err
	}
	defer db.Close()
	jobs := repository.NewJobRepository(db.Pool)

	job, err := jobs.Get(ctx, args[0])
	if err != nil {
		return err
	}
	pages, err := jobs.Pages(ctx, job.JobID)
	if err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), job, pages)

	if !jobWatch || job.Status.Terminal() {
		return nil
	}
	return watchJob(ctx, cmd.OutOrStdout(), job.JobID)
}

func watchJob(ctx context.Context, w io.Writer, jobID string) error {
	client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := cache.NewStatusCache(client, cfg.Redis.TTL, app.Logger(cfg, "quizctl")).Subscribe(ctx)
	if err != nil {
		return err
	}
	for st := range updates {
		if st.JobID != jobID {
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", st.UpdatedAt.Format(time.RFC3339), st.Status)
		if st.Status.Terminal() {
			return nil
		}
	}
	return ctx.Err()
}

func printJob(w io.Writer, job *types.SubmissionJob, pages []types.PageJob) {
	total := "unknown"
	if job.TotalPages != nil {
		total = fmt.Sprint(*job.TotalPages)
	}
	fmt.Fprintf(w, "job:     %s\n", job.JobID)
	fmt.Fprintf(w, "user:    %s\n", job.UserID)
	fmt.Fprintf(w, "source:  %s\n", job.SourcePath)
	fmt.Fprintf(w, "status:  %s\n", job.Status)
	fmt.Fprintf(w, "pages:   %s\n", total)
	if job.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", job.Error)
	}
	fmt.Fprintf(w, "updated: %s\n", job.UpdatedAt.Format(time.RFC3339))

	if len(pages) == 0 {
		return
	}
	counts := repository.PageCounts(pages)
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	fmt.Fprintln(w)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %-14s %d\n", s, counts[types.PageStatus(s)])
	}
	for _, p := range pages {
		if p.Status != types.PageDone {
			fmt.Fprintf(w, "  page %-4d %s\n", p.PageNumber, p.Status)
		}
	}
}
