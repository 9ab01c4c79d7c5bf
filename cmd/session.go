package cmd

import (
	"fmt"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagSessionID       string
	flagSessionChild    string
	flagSessionAge      int
	flagSessionLanguage string
	flagSessionGender   string
	flagSessionUser     string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect and erase screening sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new screening session",
	Args:  cobra.NoArgs,
	RunE:  runSessionCreate,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its readings summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for the current user, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Mark an in-progress session as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionComplete,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Erase a session, its readings and its pending upload",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	f := sessionCreateCmd.Flags()
	f.StringVar(&flagSessionID, "id", "", "Session id (default: random UUID)")
	f.StringVar(&flagSessionChild, "child-name", "", "Child's name (stays on this device)")
	f.IntVar(&flagSessionAge, "age-months", 0, "Child's age in months")
	f.StringVar(&flagSessionLanguage, "language", "en", "Screening language")
	f.StringVar(&flagSessionGender, "gender", "", "Child's gender")
	_ = sessionCreateCmd.MarkFlagRequired("child-name")
	_ = sessionCreateCmd.MarkFlagRequired("gender")

	sessionListCmd.Flags().StringVar(&flagSessionUser, "user", "", "List another user's sessions (default: this device's id)")

	sessionCmd.AddCommand(sessionCreateCmd, sessionShowCmd, sessionListCmd, sessionCompleteCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	userID, err := currentUser()
	if err != nil {
		return err
	}

	id := flagSessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := e.store.CreateSession(cmd.Context(), model.NewSession{
		ID:        id,
		UserID:    userID,
		ChildName: flagSessionChild,
		AgeMonths: flagSessionAge,
		Language:  flagSessionLanguage,
		Gender:    flagSessionGender,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Created session %s\n", sess.ID)
	fmt.Printf("  Queued for upload. Add readings with: autisense reading add %s --task gaze_tracking ...\n", sess.ID)
	fmt.Println()
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.store.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	readings, err := e.store.GetBiomarkersForSession(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("SESSION " + sess.ID))
	fmt.Println()
	fmt.Print(cli.RenderFields("", sessionFields(sess, len(readings))))
	fmt.Println()
	return nil
}

func sessionFields(s model.Session, readings int) []cli.Field {
	return []cli.Field{
		{Label: "User", Value: s.UserID},
		{Label: "Child", Value: s.ChildName},
		{Label: "Age", Value: cli.FormatAgeMonths(s.AgeMonths)},
		{Label: "Language", Value: s.Language},
		{Label: "Gender", Value: s.Gender},
		{Label: "Status", Value: cli.RenderStatus(string(s.Status))},
		{Label: "Created", Value: cli.FormatMillis(s.CreatedAt)},
		{Label: "Completed", Value: cli.FormatOptionalMillis(s.CompletedAt)},
		{Label: "Readings", Value: cli.FormatNumber(int64(readings))},
	}
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	userID := flagSessionUser
	if userID == "" {
		if userID, err = currentUser(); err != nil {
			return err
		}
	}

	sessions, err := e.store.ListSessionsForUser(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("\n  No sessions found.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			cli.FormatMillis(s.CreatedAt),
			string(s.Status),
			cli.FormatAgeMonths(s.AgeMonths),
			s.Language,
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  %s (%d)", userID, len(sessions))))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Session", "Created", "Status", "Age", "Lang"},
		Rows:     rows,
		LeftCols: 3,
	}))
	return nil
}

func runSessionComplete(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.store.CompleteSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("  Completed session %s at %s\n", sess.ID, cli.FormatOptionalMillis(sess.CompletedAt))
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.DeleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("  Erased session %s\n", args[0])
	return nil
}
