package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/pipeline"

	"github.com/spf13/cobra"
)

var flagAggregatePayload bool

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <session-id>",
	Short: "Compute the session summary and domain flags",
	Args:  cobra.ExactArgs(1),
	RunE:  runAggregate,
}

func init() {
	aggregateCmd.Flags().BoolVar(&flagAggregatePayload, "payload", false, "Print the exact JSON body the upload would send")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	sess, err := e.store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	readings, err := e.store.GetBiomarkersForSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	agg := pipeline.Aggregate(readings)

	if flagAggregatePayload {
		body, err := json.MarshalIndent(model.SyncRequest{
			Session:    model.PayloadFromSession(sess),
			Biomarkers: agg,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("AGGREGATE " + sess.ID))
	fmt.Println()

	if agg == nil {
		fmt.Println("  No readings recorded yet.")
		fmt.Println()
		return nil
	}

	fmt.Print(cli.RenderFields("Averages", []cli.Field{
		{Label: "Gaze", Value: cli.FormatScore(agg.AvgGazeScore)},
		{Label: "Motor", Value: cli.FormatScore(agg.AvgMotorScore)},
		{Label: "Vocalization", Value: cli.FormatScore(agg.AvgVocalizationScore)},
		{Label: "Response latency", Value: cli.FormatLatency(agg.AvgResponseLatencyMs)},
		{Label: "Samples", Value: cli.FormatNumber(int64(agg.SampleCount))},
	}))
	fmt.Println()
	fmt.Printf("  Overall  %s\n", cli.RenderScoreBar(agg.OverallScore, 30))
	fmt.Println()
	fmt.Print(cli.RenderFields("Domain flags", []cli.Field{
		{Label: "Social communication", Value: cli.FormatFlag(agg.Flags.SocialCommunication)},
		{Label: "Restricted behavior", Value: cli.FormatFlag(agg.Flags.RestrictedBehavior)},
	}))
	fmt.Println()
	return nil
}
