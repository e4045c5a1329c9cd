package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/persistence"
	"github.com/go-go-golems/parley/pkg/views"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type listRow struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Pinned   bool   `json:"pinned" yaml:"pinned"`
	Folder   string `json:"folder" yaml:"folder"`
	Messages int    `json:"messages" yaml:"messages"`
	Preview  string `json:"preview" yaml:"preview"`
	Updated  string `json:"updated" yaml:"updated"`
}

type listOutput struct {
	Pinned  []listRow      `json:"pinned" yaml:"pinned"`
	Recent  []listRow      `json:"recent" yaml:"recent"`
	Folders map[string]int `json:"folders" yaml:"folders"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pinned and recent conversations from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			output, _ := cmd.Flags().GetString("output")
			return runList(cmd.Context(), os.Stdout, viper.GetString("db"), query, output, time.Now())
		},
	}
	cmd.Flags().String("query", "", "Only show conversations matching this text")
	cmd.Flags().String("output", "text", "Output format (text, json, yaml)")
	return cmd
}

func runList(ctx context.Context, w io.Writer, dbPath string, query string, output string, now time.Time) error {
	if dbPath == "" {
		return errors.New("list needs --db")
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	st, err := db.Load(ctx)
	if err != nil {
		return err
	}

	pinned, recent := views.PartitionPinnedRecent(views.FilterByQuery(st.Conversations, query))
	out := listOutput{
		Pinned:  toRows(pinned, now),
		Recent:  toRows(recent, now),
		Folders: views.CountByFolder(st.Conversations, st.Folders),
	}

	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(out)
	case "text", "":
		return printRows(w, out, st.Folders)
	default:
		return errors.Errorf("unknown output format %q", output)
	}
}

func toRows(convs []*conversations.Conversation, now time.Time) []listRow {
	ret := make([]listRow, 0, len(convs))
	for _, c := range convs {
		ret = append(ret, listRow{
			ID:       c.ID,
			Title:    c.Title,
			Pinned:   c.Pinned,
			Folder:   c.Folder,
			Messages: c.MessageCount(),
			Preview:  c.Preview,
			Updated:  views.TimeAgo(c.UpdatedAt, now),
		})
	}
	return ret
}

func printRows(w io.Writer, out listOutput, folders []conversations.Folder) error {
	title := lipgloss.NewStyle().Bold(true)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	section := func(name string, rows []listRow) {
		_, _ = fmt.Fprintln(tw, title.Render(name))
		for _, r := range rows {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%d msgs\t%s\t%s\n", r.ID, r.Title, r.Messages, r.Updated, conversations.Truncate(r.Preview, 40))
		}
	}
	section("Pinned", out.Pinned)
	section("Recent", out.Recent)
	_, _ = fmt.Fprintln(tw, title.Render("Folders"))
	for _, f := range folders {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", f.Name, out.Folders[f.Name])
	}
	return tw.Flush()
}
