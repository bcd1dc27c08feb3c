package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <photo|embedding.json>...",
	Short: "Enroll a student with one or more face samples",
	Long: `Enroll a student with one or more face samples.

Each argument is a photo, sent to the embedding server, or a JSON file holding
a precomputed embedding. Enrolment is rejected when the roll number or email is
already taken. Students the new face already resembles are reported.

Examples:
  face-attendance enroll --name "Alice Novak" --roll CS-001 front.jpg left.jpg right.jpg
  face-attendance enroll --name "Bob" --roll CS-002 --email bob@example.com bob.json`,
	Args: cobra.RangeArgs(1, constants.MaxEnrolmentEmbeddings),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Student name (required)")
	enrollCmd.Flags().String("roll", "", "Roll number (required)")
	enrollCmd.Flags().String("email", "", "Email address")
	enrollCmd.Flags().String("phone", "", "Phone number")
	enrollCmd.Flags().String("course", "", "Course")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("name")
	_ = enrollCmd.MarkFlagRequired("roll")
}

// EnrollOutput is the JSON output of the enroll command
type EnrollOutput struct {
	StudentID  int64                       `json:"student_id"`
	Name       string                      `json:"name"`
	RollNumber string                      `json:"roll_number"`
	Embeddings int                         `json:"embeddings"`
	LookAlikes []attendance.SimilarStudent `json:"look_alikes,omitempty"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	emb := newEmbedder(s.cfg)
	embeddings := make([][]float32, 0, len(args))
	for _, path := range args {
		e, err := loadEmbedding(ctx, emb, path)
		if err != nil {
			return err
		}
		embeddings = append(embeddings, e)
	}

	result, err := s.svc.Enroll(ctx, attendance.EnrollRequest{
		Name:       mustGetString(cmd, "name"),
		RollNumber: mustGetString(cmd, "roll"),
		Email:      mustGetString(cmd, "email"),
		Phone:      mustGetString(cmd, "phone"),
		Course:     mustGetString(cmd, "course"),
		Embeddings: embeddings,
	})
	if errors.Is(err, attendance.ErrStudentExists) {
		return errors.New("student with this roll number or email already exists")
	}
	if err != nil {
		return fmt.Errorf("enrolment failed: %w", err)
	}

	out := EnrollOutput{
		StudentID:  result.Student.ID,
		Name:       result.Student.Name,
		RollNumber: result.Student.RollNumber,
		Embeddings: len(embeddings),
		LookAlikes: result.LookAlikes,
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	fmt.Printf("Enrolled %s (%s) as student %d with %d face sample(s)\n", out.Name, out.RollNumber, out.StudentID, out.Embeddings)
	printLookAlikes(out.LookAlikes)
	return nil
}

// printLookAlikes warns about enrolled students the new face resembles.
func printLookAlikes(lookAlikes []attendance.SimilarStudent) {
	if len(lookAlikes) == 0 {
		return
	}
	fmt.Println("\nWarning: the new face resembles already enrolled students:")
	for _, la := range lookAlikes {
		fmt.Printf("  %d  %s (%s)  similarity %.4f\n", la.StudentID, la.Name, la.RollNumber, la.Similarity)
	}
}
