package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus-chat/internal/speech"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List voices offered by the configured speech engine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(os.Stderr, true)
		if err != nil {
			return err
		}

		seq, release := newSequencer(cfg)
		defer release()

		voices := seq.Voices()
		if len(voices) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No voices available for engine %q.\n", cfg.Speech.Engine)
			return nil
		}
		selected := speech.SelectVoice(voices, cfg.Speech.Voice)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tLANGUAGE\tGENDER")
		for _, v := range voices {
			mark := ""
			if selected != nil && v.ID == selected.ID {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, v.ID, v.Name, v.Language, v.Gender)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}
