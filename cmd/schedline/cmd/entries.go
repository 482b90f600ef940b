package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"schedline/internal/entry"
	"schedline/internal/finish"
)

var parseCmd = &cobra.Command{
	Use:   "parse <entry>",
	Short: "Parse an entry and print its canonical form",
	Long: `Parse an entry without storing it. The canonical form, the item type and
the compiled schedule are printed; errors name the offending keys.

Examples:
  schedline parse '~ Water plants @s 2025-03-03 @r w'
  schedline parse '* Flight @s 2025-03-05 14:30 z Europe/Paris @e 2h'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		res, err := newEngine(conf).Parse(text)
		if err != nil {
			printEntryError(cmd.ErrOrStderr(), err)
			return errors.New("entry does not parse")
		}
		it := res.Item
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, entry.Format(it))
		fmt.Fprintf(out, "type:  %s\n", it.Type)
		fmt.Fprintf(out, "state: %s\n", finish.StateOf(it))
		if it.Scheduled() {
			fmt.Fprintf(out, "kind:  %s\n", it.Kind)
			for _, line := range strings.Split(it.RuleSet.String(), "\n") {
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <file|->",
	Short: "Check a file of entries, one per line",
	Long: `Parse every non-blank line of a file that does not start with '#' and
report the ones that fail. The exit status is non-zero if any line fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, numbers, err := readEntries(cmd, args[0])
		if err != nil {
			return err
		}
		parsed, err := newEngine(conf).ParseAll(cmd.Context(), lines, 4)
		if err != nil {
			return err
		}
		failed := 0
		for i, p := range parsed {
			if p.Err == nil {
				continue
			}
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "line %d: %v\n", numbers[i], p.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %d failed\n", len(lines), failed)
		if failed > 0 {
			return errors.Newf("%d entries failed", failed)
		}
		return nil
	},
}

func openInput(cmd *cobra.Command, name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(name)
	return f, errors.Wrapf(err, "open %s", name)
}

// readEntries returns the entry lines of name together with their line
// numbers.
func readEntries(cmd *cobra.Command, name string) ([]string, []int, error) {
	r, err := openInput(cmd, name)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var (
		lines   []string
		numbers []int
	)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
		numbers = append(numbers, n)
	}
	return lines, numbers, errors.Wrapf(sc.Err(), "read %s", name)
}

func printEntryError(w io.Writer, err error) {
	var (
		lexErr     *entry.LexError
		grammarErr *entry.GrammarError
		fieldErrs  entry.FieldErrors
	)
	switch {
	case errors.As(err, &lexErr):
		fmt.Fprintln(w, lexErr.Error())
	case errors.As(err, &grammarErr):
		for _, msg := range grammarErr.Messages {
			fmt.Fprintln(w, msg)
		}
		if grammarErr.Incomplete && len(grammarErr.Allowed) > 0 {
			fmt.Fprintf(w, "expected one of: %s\n", strings.Join(grammarErr.Allowed, " "))
		}
	case errors.As(err, &fieldErrs):
		for _, fe := range fieldErrs {
			fmt.Fprintln(w, fe.Error())
		}
	default:
		fmt.Fprintln(w, err.Error())
	}
}
