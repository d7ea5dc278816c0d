// cmd/sql-assistant/ask.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	apperrors "sql-assistant/internal/common/errors"
)

type answerFunc func(ctx context.Context, question string) (string, error)

func askCmd(cfgPath *string) *cobra.Command {
	var question string

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask one question with --question, or start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := bootstrap(ctx, *cfgPath, "sql-assistant-cli")
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.buildPipeline(ctx)
			if err != nil {
				return err
			}

			if question != "" {
				answer, err := orch.Answer(ctx, question)
				if err != nil {
					return fmt.Errorf("%s", describeFailure(err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			}
			return interact(ctx, os.Stdin, cmd.OutOrStdout(), orch.Answer)
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to answer")
	return cmd
}

// interact reads one question per line until EOF or "exit". A failed
// question is reported and the loop continues.
func interact(ctx context.Context, in io.Reader, out io.Writer, answer answerFunc) error {
	fmt.Fprintln(out, "Welcome to the SQL assistant! Type 'exit' to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Please enter your question: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") {
			break
		}
		if line == "" {
			continue
		}

		resp, err := answer(ctx, line)
		if err != nil {
			fmt.Fprintln(out, describeFailure(err))
			continue
		}
		fmt.Fprintln(out, resp)
	}

	fmt.Fprintln(out, "Goodbye!")
	return scanner.Err()
}

func describeFailure(err error) string {
	stdErr := apperrors.ToStandardError(err)
	if stage, ok := stdErr.Metadata["stage"].(string); ok {
		return fmt.Sprintf("error [%s/%s]: %s", stage, stdErr.Code, stdErr.Message)
	}
	return fmt.Sprintf("error [%s]: %s", stdErr.Code, stdErr.Message)
}
