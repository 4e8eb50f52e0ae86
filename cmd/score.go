package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/scorer"
)

// scoreOutput is the result printed by the score command.
type scoreOutput struct {
	Email         string                  `json:"email,omitempty"`
	Score         int                     `json:"score"`
	MaxScore      int                     `json:"max_score"`
	ClientScore   int                     `json:"client_score,omitempty"`
	Qualification model.Qualification     `json:"qualification"`
	Labels        model.QualificationData `json:"labels"`
	Hot           bool                    `json:"hot"`
}

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score a lead submission without syncing it",
	Long: `Reads a lead submission JSON document from a file (or stdin when no file
is given) and prints the server-side score, qualification and factor labels.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("score"); err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrapf(err, "score: open %s", args[0])
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		out, err := scoreSubmission(in)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func scoreSubmission(r io.Reader) (scoreOutput, error) {
	var sub model.LeadSubmission
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		return scoreOutput{}, eris.Wrap(err, "score: decode submission")
	}

	f := scorer.FactorsFrom(sub)
	s := scorer.Score(f)
	return scoreOutput{
		Email:         sub.Email,
		Score:         s,
		MaxScore:      scorer.MaxScore,
		ClientScore:   sub.LeadScore,
		Qualification: scorer.Qualify(s),
		Labels:        scorer.Labels(f),
		Hot:           scorer.IsHot(s),
	}, nil
}
