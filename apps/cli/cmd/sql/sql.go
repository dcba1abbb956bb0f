// Package sqlcmd exposes the read-only SQL gate on the command line so report
// authors can check a query before submitting it.
package sqlcmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard"
	"github.com/zenGate-Global/palmyra-reports/platform/go/sqlguard/pgquery"
)

// ErrRejected is returned by `sql check` when the gate refuses the query.
var ErrRejected = errors.New("query rejected")

// Command groups SQL helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "SQL utilities",
	}

	cmd.AddCommand(checkCommand())
	return cmd
}

func checkCommand() *cobra.Command {
	var maxLength int

	cmd := &cobra.Command{
		Use:          "check [file]",
		Short:        "Validate a query against the read-only gate (reads stdin when no file is given)",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args)
			if err != nil {
				return err
			}

			gate := sqlguard.NewGate(pgquery.New(), sqlguard.Config{MaxLength: maxLength})
			out := cmd.OutOrStdout()

			if err := gate.Validate(src); err != nil {
				var rej *sqlguard.Rejection
				if !errors.As(err, &rej) {
					return err
				}
				fmt.Fprintf(out, "REJECTED: %s\n", rej.Reason)
				if rej.Hint != "" {
					fmt.Fprintf(out, "hint: %s\n", rej.Hint)
				}
				if rej.Statement > 0 {
					fmt.Fprintf(out, "statement: %d\n", rej.Statement)
				}
				return ErrRejected
			}

			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	cmd.Flags().IntVar(&maxLength, "max-length", sqlguard.DefaultMaxLength, "maximum query length in characters")

	return cmd
}

func readSource(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	return string(data), nil
}
