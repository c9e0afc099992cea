package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solacehealth/voiceloop/pkg/eou"
)

var downloadCmd = &cobra.Command{
	Use:   "download-model",
	Short: "Download the end-of-utterance model files",
	Long: `download-model fetches the quantized end-of-utterance model and its
tokenizer so that run can score turn endings with the model instead of the
silence heuristic. Files land under $VOICELOOP_MODEL_PATH or
~/.voiceloop/models.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath, _ := cmd.Flags().GetString("model-path")
		d := eou.NewDownloader(modelPath)
		if d.Ready() {
			fmt.Printf("model already present under %s\n", d.ModelPath())
			return nil
		}
		return d.Download()
	},
}

func init() {
	downloadCmd.Flags().String("model-path", "", "directory to store model files")
}
