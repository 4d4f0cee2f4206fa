package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/airplay-fetch/internal/stage"
)

var largestCmd = &cobra.Command{
	Use:   "largest [dir]",
	Short: "Show the largest .wav file in a folder",
	Long:  `Finds the largest .wav file directly under dir (default: the temp base folder).`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.Paths.TempBase
		if len(args) == 1 {
			dir = args[0]
		}

		path, size, err := stage.Largest(dir)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(map[string]interface{}{"path": path, "size_bytes": size})
		}
		fmt.Printf("Largest WAV file: %s\nSize: %d bytes (%.2f MB)\n", path, size, float64(size)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(largestCmd)
}
