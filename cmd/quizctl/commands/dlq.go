package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/amrrdev/quizscan/internal/app"
	"github.com/amrrdev/quizscan/internal/queue"
	"github.com/spf13/cobra"
)

var (
	listLimit   int
	replayLimit int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered messages",
}

var dlqListCmd = &cobra.Command{
	Use:       "list <stage>",
	Short:     "Show dead-lettered messages without removing them",
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE:      runDLQList,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <stage>",
	Short: "Move dead-lettered messages back to the stage with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQReplay,
}

func init() {
	dlqListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of messages (0 for all)")
	dlqReplayCmd.Flags().IntVarP(&replayLimit, "limit", "n", 0, "maximum number of messages (0 for all)")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}

func stageNames() []string {
	names := make([]string, len(queue.Stages))
	for i, s := range queue.Stages {
		names[i] = s.Name
	}
	return names
}

func lookupStage(name string) (queue.Stage, error) {
	stage, ok := queue.StageByName(name)
	if !ok {
		return queue.Stage{}, fmt.Errorf("unknown stage %q (want one of %s)", name, strings.Join(stageNames(), ", "))
	}
	return stage, nil
}

func runDLQList(cmd *cobra.Command, args []string) error {
	stage, err := lookupStage(args[0])
	if err != nil {
		return err
	}

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer rmq.Close()

	letters, err := queue.PeekDeadLetters(rmq.Channel, stage, listLimit)
	if err != nil {
		return err
	}
	printDeadLetters(cmd.OutOrStdout(), stage, letters)
	return nil
}

func runDLQReplay(cmd *cobra.Command, args []string) error {
	stage, err := lookupStage(args[0])
	if err != nil {
		return err
	}

	logger := app.Logger(cfg, "quizctl")
	rmq, publisher, err := app.Broker(cfg, logger)
	if err != nil {
		return err
	}
	defer rmq.Close()

	n, err := queue.ReplayDeadLetters(cmd.Context(), rmq.Channel, publisher, stage, replayLimit)
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s) from %s\n", n, stage.DeadLetterQueue())
	return err
}

func printDeadLetters(w io.Writer, stage queue.Stage, letters []queue.DeadLetter) {
	if len(letters) == 0 {
		fmt.Fprintf(w, "%s is empty\n", stage.DeadLetterQueue())
		return
	}
	fmt.Fprintf(w, "%d message(s) in %s\n", len(letters), stage.DeadLetterQueue())
	for i, dl := range letters {
		reason := dl.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "\n#%d routing_key=%s deaths=%d reason=%s\n", i+1, dl.RoutingKey, dl.Deaths, reason)
		fmt.Fprintf(w, "  %s\n", truncate(string(dl.Body), 400))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
