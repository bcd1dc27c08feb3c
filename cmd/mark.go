package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/spf13/cobra"
)

var markCmd = &cobra.Command{
	Use:   "mark <student-id>",
	Short: "Mark attendance for a student manually",
	Long: `Mark attendance for a student without recognition.

AUTO marks entry when the student has none today and exit otherwise.
IN and OUT mark only entry or only exit. Records are stored as marked by "manual".`,
	Args: cobra.ExactArgs(1),
	RunE: runMark,
}

func init() {
	rootCmd.AddCommand(markCmd)

	markCmd.Flags().String("action", "AUTO", "AUTO, IN or OUT")
	markCmd.Flags().Bool("json", false, "Output as JSON")
}

// MarkOutput is the JSON output of the mark command
type MarkOutput struct {
	StudentID int64  `json:"student_id"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	State     string `json:"state"`
}

func runMark(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	studentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || studentID <= 0 {
		return fmt.Errorf("invalid student ID %q", args[0])
	}
	action, err := attendance.ParseAction(mustGetString(cmd, "action"))
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.svc.MarkManual(ctx, studentID, action)
	if err != nil {
		return fmt.Errorf("marking attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(MarkOutput{
			StudentID: studentID,
			Success:   outcome.Success,
			Reason:    string(outcome.Reason),
			Message:   outcome.Message,
			State:     string(outcome.State),
		})
	}

	fmt.Println(outcome.Message)
	return nil
}
