package cmd

import (
	"fmt"
	"strings"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/model"

	"github.com/spf13/cobra"
)

var (
	flagReadingTask    string
	flagReadingGaze    float64
	flagReadingMotor   float64
	flagReadingVocal   float64
	flagReadingLatency int64
)

var readingCmd = &cobra.Command{
	Use:   "reading",
	Short: "Record and list biomarker readings",
}

var readingAddCmd = &cobra.Command{
	Use:   "add <session-id>",
	Short: "Append one task reading to a session",
	Long:  "Append one task reading. Scores outside 0..1 are clamped before they are stored.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadingAdd,
}

var readingListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's readings in time order",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadingList,
}

func init() {
	taskNames := make([]string, 0, len(model.AllTasks))
	for _, t := range model.AllTasks {
		taskNames = append(taskNames, string(t))
	}

	f := readingAddCmd.Flags()
	f.StringVar(&flagReadingTask, "task", "", "Task id: "+strings.Join(taskNames, ", "))
	f.Float64Var(&flagReadingGaze, "gaze", 0, "Gaze score (0..1)")
	f.Float64Var(&flagReadingMotor, "motor", 0, "Motor score (0..1)")
	f.Float64Var(&flagReadingVocal, "vocal", 0, "Vocalization score (0..1)")
	f.Int64Var(&flagReadingLatency, "latency-ms", 0, "Response latency in milliseconds (omit if not measured)")
	_ = readingAddCmd.MarkFlagRequired("task")

	readingListCmd.Flags().StringVar(&flagReadingTask, "task", "", "Only show readings from this task")

	readingCmd.AddCommand(readingAddCmd, readingListCmd)
	rootCmd.AddCommand(readingCmd)
}

func runReadingAdd(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	r := model.Reading{
		GazeScore:         flagReadingGaze,
		MotorScore:        flagReadingMotor,
		VocalizationScore: flagReadingVocal,
	}
	if cmd.Flags().Changed("latency-ms") {
		v := flagReadingLatency
		r.ResponseLatencyMs = &v
	}

	b, err := e.store.AppendBiomarker(cmd.Context(), args[0], model.TaskID(flagReadingTask), r)
	if err != nil {
		return err
	}

	fmt.Printf("  Recorded %s reading #%d for %s (gaze %s, motor %s, vocal %s)\n",
		b.TaskID, b.ID, b.SessionID,
		cli.FormatScore(b.GazeScore), cli.FormatScore(b.MotorScore), cli.FormatScore(b.VocalizationScore))
	return nil
}

func runReadingList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if _, err := e.store.GetSession(ctx, args[0]); err != nil {
		return err
	}

	var readings []model.Biomarker
	if flagReadingTask != "" {
		readings, err = e.store.GetBiomarkersByTask(ctx, args[0], model.TaskID(flagReadingTask))
	} else {
		readings, err = e.store.GetBiomarkersForSession(ctx, args[0])
	}
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Println("\n  No readings recorded.")
		return nil
	}

	rows := make([][]string, 0, len(readings))
	for _, b := range readings {
		rows = append(rows, []string{
			cli.FormatMillis(b.Timestamp),
			string(b.TaskID),
			cli.FormatScore(b.GazeScore),
			cli.FormatScore(b.MotorScore),
			cli.FormatScore(b.VocalizationScore),
			cli.FormatLatency(b.ResponseLatencyMs),
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:    fmt.Sprintf("Readings for %s (%d)", args[0], len(readings)),
		Headers:  []string{"Time", "Task", "Gaze", "Motor", "Vocal", "Latency"},
		Rows:     rows,
		LeftCols: 2,
	}))
	return nil
}
