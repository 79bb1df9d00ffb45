package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question with the QA pipeline",
	Long: `Answer one question with the same pipeline the bot uses in Slack.

Examples:
  nestbot ask "How do I run ZAP in CI?"
  nestbot ask --only-questions "thanks everyone"   # Print nothing for non-questions`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().Bool("only-questions", false, "stay silent when the text is not an OWASP question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	onlyQuestions, _ := cmd.Flags().GetBool("only-questions")
	cfg := holder.Get()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.QATimeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	if onlyQuestions {
		answer, ok, err := a.qa.AnswerIfQuestion(ctx, question)
		if err != nil || !ok {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	}

	answer, err := a.qa.Answer(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}
