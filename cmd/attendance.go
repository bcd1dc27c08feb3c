package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/spf13/cobra"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Attendance reports",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records",
	Long: `List attendance records, newest day first.
Without --from/--to the last 30 days are shown.`,
	Args: cobra.NoArgs,
	RunE: runAttendanceList,
}

var attendanceTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's attendance summary",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceToday,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceListCmd, attendanceTodayCmd)

	attendanceListCmd.Flags().String("from", "", "First day, YYYY-MM-DD")
	attendanceListCmd.Flags().String("to", "", "Last day, YYYY-MM-DD")
	attendanceListCmd.Flags().Int("student", 0, "Only records of this student ID")
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")
	attendanceTodayCmd.Flags().Bool("json", false, "Output as JSON")
}

// RecordOutput is one attendance record in JSON output
type RecordOutput struct {
	StudentID  int64      `json:"student_id"`
	Name       string     `json:"name"`
	RollNumber string     `json:"roll_number"`
	Date       string     `json:"date"`
	TimeIn     *time.Time `json:"time_in"`
	TimeOut    *time.Time `json:"time_out"`
	MarkedBy   string     `json:"marked_by"`
}

// formatClock formats an optional timestamp as HH:MM:SS in loc.
func formatClock(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format(time.TimeOnly)
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	filter := database.RecordFilter{
		From:      mustGetString(cmd, "from"),
		To:        mustGetString(cmd, "to"),
		StudentID: int64(mustGetInt(cmd, "student")),
	}
	for _, d := range []string{filter.From, filter.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(database.DateLayout, d); err != nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", d)
		}
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.svc.Records(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		out := make([]RecordOutput, 0, len(records))
		for i := range records {
			r := &records[i]
			out = append(out, RecordOutput{
				StudentID:  r.StudentID,
				Name:       r.StudentName,
				RollNumber: r.RollNumber,
				Date:       r.Date,
				TimeIn:     r.TimeIn,
				TimeOut:    r.TimeOut,
				MarkedBy:   r.MarkedBy,
			})
		}
		return outputJSON(out)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records found.")
		return nil
	}

	loc, _ := s.cfg.Attendance.Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tROLL\tNAME\tIN\tOUT\tBY")
	fmt.Fprintln(w, "----\t----\t----\t--\t---\t--")
	for i := range records {
		r := &records[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Date, r.RollNumber, r.StudentName, formatClock(r.TimeIn, loc), formatClock(r.TimeOut, loc), r.MarkedBy)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d records\n", len(records))
	return nil
}

func runAttendanceToday(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.svc.TodayStats(ctx)
	if err != nil {
		return fmt.Errorf("computing today's attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}

	fmt.Printf("Attendance for %s\n", stats.Date)
	fmt.Printf("  Students:   %d\n", stats.TotalStudents)
	fmt.Printf("  Present:    %d\n", stats.Present)
	fmt.Printf("  Left:       %d\n", stats.Complete)
	fmt.Printf("  Absent:     %d\n", stats.Absent)
	fmt.Printf("  Rate:       %.1f%%\n", stats.AttendanceRate)
	return nil
}
