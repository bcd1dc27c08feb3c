package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	Args:  cobra.NoArgs,
	RunE:  runStudentsList,
}

var studentsFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Find active students by name or roll number",
	Long: `Find active students by name or roll number.
Matching ignores case and diacritics, so "novak" finds "Novák".`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsFind,
}

var studentsDeleteCmd = &cobra.Command{
	Use:   "delete <student-id>",
	Short: "Deactivate a student",
	Long: `Deactivate a student. The student's faces stop being recognized
immediately; attendance history is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsDelete,
}

var studentsSimilarCmd = &cobra.Command{
	Use:   "similar <student-id>",
	Short: "Show students whose faces resemble a student's",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsSimilar,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsListCmd, studentsFindCmd, studentsDeleteCmd, studentsSimilarCmd)

	studentsListCmd.Flags().Bool("all", false, "Include deactivated students")
	studentsListCmd.Flags().Bool("json", false, "Output as JSON")
	studentsFindCmd.Flags().Bool("json", false, "Output as JSON")
	studentsSimilarCmd.Flags().Int("limit", constants.DefaultSimilarLimit, "Maximum number of students to show")
	studentsSimilarCmd.Flags().Bool("json", false, "Output as JSON")
}

// StudentOutput is one student in JSON output
type StudentOutput struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	RollNumber     string `json:"roll_number"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Course         string `json:"course,omitempty"`
	IsActive       bool   `json:"is_active"`
	EmbeddingCount int    `json:"embedding_count"`
}

func parseStudentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid student ID %q", arg)
	}
	return id, nil
}

func printStudents(students []database.Student, jsonOutput bool) error {
	if jsonOutput {
		out := make([]StudentOutput, 0, len(students))
		for i := range students {
			s := &students[i]
			out = append(out, StudentOutput{
				ID:             s.ID,
				Name:           s.Name,
				RollNumber:     s.RollNumber,
				Email:          s.Email,
				Phone:          s.Phone,
				Course:         s.Course,
				IsActive:       s.IsActive,
				EmbeddingCount: s.EmbeddingCount,
			})
		}
		return outputJSON(out)
	}

	if len(students) == 0 {
		fmt.Println("No students found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLL\tNAME\tCOURSE\tFACES\tACTIVE")
	fmt.Fprintln(w, "--\t----\t----\t------\t-----\t------")
	for i := range students {
		s := &students[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%v\n", s.ID, s.RollNumber, s.Name, s.Course, s.EmbeddingCount, s.IsActive)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d students\n", len(students))
	return nil
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	students, err := s.svc.Students(ctx, mustGetBool(cmd, "all"))
	if err != nil {
		return fmt.Errorf("listing students: %w", err)
	}
	return printStudents(students, mustGetBool(cmd, "json"))
}

func runStudentsFind(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	students, err := s.svc.Search(ctx, args[0])
	if err != nil {
		return fmt.Errorf("searching students: %w", err)
	}
	return printStudents(students, mustGetBool(cmd, "json"))
}

func runStudentsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseStudentID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.svc.RemoveStudent(ctx, id)
	if errors.Is(err, attendance.ErrStudentNotFound) {
		return fmt.Errorf("student %d not found", id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Student %d deactivated\n", id)
	return nil
}

func runStudentsSimilar(cmd *cobra.Command, args []string) error {
	id, err := parseStudentID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	similar, err := s.svc.Similar(ctx, id, mustGetInt(cmd, "limit"))
	if errors.Is(err, attendance.ErrStudentNotFound) {
		return fmt.Errorf("student %d not found or has no active face samples", id)
	}
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		if similar == nil {
			similar = []attendance.SimilarStudent{}
		}
		return outputJSON(similar)
	}
	if len(similar) == 0 {
		fmt.Println("No similar students found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLL\tNAME\tSIMILARITY")
	fmt.Fprintln(w, "--\t----\t----\t----------")
	for _, st := range similar {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", st.StudentID, st.RollNumber, st.Name, st.Similarity)
	}
	w.Flush()
	return nil
}
