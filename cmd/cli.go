// SPDX-License-Identifier: MIT
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"termviz/internal/config"
	"termviz/pkg/build"
)

// Commands ParseArgs can select.
const (
	CommandRun  = "run"
	CommandList = "list"
	CommandNone = "" // help or version already printed; nothing to do
)

// ParseArgs builds the runtime configuration from flags and the optional
// config file, returning the selected command alongside it.
func ParseArgs() (*config.Config, string, error) {
	buildInfo := build.GetBuildFlags()

	var (
		configPath string
		srcFlag    string
		modeFlag   string
		rateFlag   float64
		chansFlag  int
		fftFlag    int
		presetFlag string
		verbose    bool
		deviceID   int
	)

	runPipeline := false
	listDevices := false

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Real-time audio visualizer for text terminals",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare invocation prints usage; any flag starts the pipeline.
			if cmd.Flags().NFlag() == 0 && len(args) == 0 {
				return cmd.Help()
			}
			runPipeline = true
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}} (" + buildInfo.Commit + ", built " + buildInfo.Time + ")\n")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		Run: func(cmd *cobra.Command, args []string) {
			listDevices = true
		},
	}
	rootCmd.AddCommand(listCmd)

	// Source and renderer selection.
	rootCmd.PersistentFlags().StringVar(&srcFlag, "source", config.DefaultSource,
		"Audio source: 'system' or 'file:<path>'")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", config.DefaultMode,
		"Visualization mode: spectrum, waveform, abstract")
	rootCmd.PersistentFlags().IntVarP(&deviceID, "device", "d", config.MinDeviceID,
		"Input device ID. Use 'list' to see available devices")

	// Stream format.
	rootCmd.PersistentFlags().Float64VarP(&rateFlag, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate in Hertz (22050, 44100, 48000, 96000)")
	rootCmd.PersistentFlags().IntVarP(&chansFlag, "channels", "c", config.DefaultChannels,
		"Number of channels (1=mono, 2=stereo)")

	// Analysis and DSP.
	rootCmd.PersistentFlags().IntVar(&fftFlag, "fft-size", config.DefaultFFTSize,
		"FFT size (128-4096, power of 2)")
	rootCmd.PersistentFlags().StringVar(&presetFlag, "preset", config.DefaultPreset,
		"DSP preset: live_input, music_file, quiet_environment, loud_environment, disabled")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false,
		"Show verbose output")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, CommandNone, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, CommandNone, err
	}

	// Flags win over the file for anything the user set explicitly.
	flags := rootCmd.PersistentFlags()
	if flags.Changed("source") {
		cfg.Audio.Source = srcFlag
	}
	if flags.Changed("mode") {
		cfg.Audio.Mode = modeFlag
	}
	if flags.Changed("device") {
		cfg.Audio.InputDevice = deviceID
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = rateFlag
	}
	if flags.Changed("channels") {
		cfg.Audio.Channels = chansFlag
	}
	if flags.Changed("fft-size") {
		cfg.Analysis.FFTSize = fftFlag
	}
	if flags.Changed("preset") {
		cfg.DSP.Preset = presetFlag
	}
	if verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, CommandNone, err
	}

	switch {
	case listDevices:
		return cfg, CommandList, nil
	case runPipeline:
		return cfg, CommandRun, nil
	default:
		return cfg, CommandNone, nil
	}
}
