package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/parley/pkg/templates"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates [name]",
		Short: "List prompt templates, or render one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib := templates.Default()
			if path := viper.GetString("templates"); path != "" {
				var err error
				lib, err = templates.LoadFile(path)
				if err != nil {
					return err
				}
			}
			if len(args) == 0 {
				return printTemplates(os.Stdout, lib)
			}
			title, _ := cmd.Flags().GetString("title")
			folder, _ := cmd.Flags().GetString("folder")
			return renderTemplate(os.Stdout, lib, args[0], templates.Data{Title: title, Folder: folder, Now: time.Now()})
		},
	}
	cmd.Flags().String("title", "", "Conversation title passed to the template")
	cmd.Flags().String("folder", "", "Conversation folder passed to the template")
	return cmd
}

func printTemplates(w io.Writer, lib *templates.Library) error {
	_, _ = fmt.Fprintln(w, "Templates:")
	for _, name := range lib.Names() {
		_, _ = fmt.Fprintf(w, "  %s\n", name)
	}
	_, _ = fmt.Fprintln(w, "Examples:")
	for i, e := range lib.Examples {
		_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, e)
	}
	return nil
}

func renderTemplate(w io.Writer, lib *templates.Library, name string, data templates.Data) error {
	t, ok := lib.Find(name)
	if !ok {
		return errors.Errorf("no template named %q", name)
	}
	out, err := t.Render(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}
