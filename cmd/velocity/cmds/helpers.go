package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	input "github.com/tcnksm/go-input"
)

// openClient builds a client from the merged flag, environment and config
// file settings.
func openClient(ctx context.Context) (*client.Client, error) {
	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	opts := []client.Option{}
	if viper.GetBool("dump-events") {
		opts = append(opts,
			client.WithEventDump(os.Stderr),
			client.WithVerboseEvents(viper.GetBool("verbose")),
		)
	}
	return client.New(ctx, s, opts...)
}

// withClient opens a client for the duration of f.
func withClient(cmd *cobra.Command, f func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	return f(ctx, c)
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// render prints markdown, styled when stdout is a terminal.
func render(w io.Writer, md string) error {
	if isTerminal() && !viper.GetBool("plain") {
		styled, err := glamour.Render(md, "dark")
		if err == nil {
			md = styled
		}
	}
	_, err := fmt.Fprint(w, md)
	return err
}

func markdownTable(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = strings.ReplaceAll(strings.ReplaceAll(c, "|", "\\|"), "\n", " ")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

func newUI() *input.UI {
	return &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
}

// ask prompts for a value unless one was given on the command line.
func ask(ui *input.UI, given, query string, secret bool) (string, error) {
	if given != "" {
		return given, nil
	}
	return ui.Ask(query, &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
		Mask:      secret,
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}
