package cmd

import (
	"scribeq/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a media file for transcription",
	Long: `Submit a media file for transcription.

The file path must be reachable by the scribeq server; the CLI does not
upload the file itself.

Example:
  scribectl submit --file /data/uploads/interview.wav --language en
  scribectl submit --file /data/uploads/standup.mp3 --model small --priority 75`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		file, _ := flags.GetString("file")
		language, _ := flags.GetString("language")
		model, _ := flags.GetString("model")
		priority, _ := flags.GetInt("priority")

		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		client := NewClient(viper.GetString("url"))

		result, err := client.SubmitJob(api.SubmitJobRequest{
			SourceLocation: file,
			Language:       language,
			Model:          model,
			Priority:       priority,
		})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job submitted!\nJob ID: %s\n", result.JobID)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("file", "f", "", "Path to the media file on the server (required)")
	flags.StringP("language", "l", "", "Spoken language hint, e.g. 'en' (optional)")
	flags.StringP("model", "m", "", "Whisper model to use (optional, server default applies)")
	flags.IntP("priority", "p", api.PriorityNormal, "Scheduling priority 0-100")

	rootCmd.AddCommand(submitCmd)
}
