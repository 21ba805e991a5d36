// Command auhalctl is a minimal smoke-test CLI for the AUHAL host-API
// backend: list the devices the platform reports, and play a .wav file
// through a simplex output stream so the render path can be exercised by
// hand without writing a Go program against pkg/hostapi directly.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/colinmarsh/auhalstream/internal/coreaudio"
	"github.com/colinmarsh/auhalstream/internal/logging"
	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
	"github.com/colinmarsh/auhalstream/pkg/hostapi"
)

var configFilePath string

var rootCmd = &cobra.Command{
	Use:   "auhalctl",
	Short: "Smoke-test tool for the AUHAL host-API backend",
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices the platform reports",
	RunE:  runDevices,
}

var playCmd = &cobra.Command{
	Use:   "play <wavfile>",
	Short: "Play a .wav file through the default output device",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilePath, "config", "", "path to a config file")
	rootCmd.PersistentFlags().Float64("samplerate", 0, "sample rate setting, validated at startup (play uses the wav file's own rate)")
	rootCmd.PersistentFlags().Int("framesperbuffer", 0, "frames per buffer (0 lets the negotiator choose)")
	rootCmd.PersistentFlags().Int("channels", 0, "channel count setting (play uses the wav file's own channel count)")
	rootCmd.PersistentFlags().String("quality", "", "resample quality: low, medium, high, max")

	cobra.CheckErr(viper.BindPFlag("samplerate", rootCmd.PersistentFlags().Lookup("samplerate")))
	cobra.CheckErr(viper.BindPFlag("framesperbuffer", rootCmd.PersistentFlags().Lookup("framesperbuffer")))
	cobra.CheckErr(viper.BindPFlag("channels", rootCmd.PersistentFlags().Lookup("channels")))
	cobra.CheckErr(viper.BindPFlag("quality", rootCmd.PersistentFlags().Lookup("quality")))

	rootCmd.AddCommand(devicesCmd, playCmd)
}

func main() {
	cobra.OnInitialize(func() { loadConfig(configFilePath) })
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "auhalctl: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging() func() {
	f, err := logging.Configure(viper.GetString("loglevel"), viper.GetString("logfile"), slog.HandlerOptions{})
	if err != nil {
		slog.Error("could not configure logging", "err", err)
		panic(err)
	}
	if f == nil {
		return func() {}
	}
	return func() { f.Close() }
}

func runDevices(_ *cobra.Command, _ []string) error {
	defer configureLogging()()

	var api hostapi.HostAPI
	if err := api.Initialize(); err != nil {
		return fmt.Errorf("initialize host api: %w", err)
	}
	defer api.Terminate()

	devices := api.Devices()
	if len(devices) == 0 {
		fmt.Println("no devices reported")
		return nil
	}
	for i, d := range devices {
		fmt.Printf("[%d] %s (in=%d out=%d rate=%.0f)\n", i, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}

func runPlay(_ *cobra.Command, args []string) error {
	defer configureLogging()()

	source, err := bufferprocessor.OpenWavFileSource(args[0])
	if err != nil {
		return fmt.Errorf("open wav file: %w", err)
	}
	channels, sampleRate := source.Format()

	device, err := coreaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("no default output device: %w", err)
	}

	var api hostapi.HostAPI
	if err := api.Initialize(); err != nil {
		return fmt.Errorf("initialize host api: %w", err)
	}
	defer api.Terminate()

	flags := hostapi.FlagPlayNice.WithQuality(qualityLevel(viper.GetString("quality")))

	strm, err := api.Open(hostapi.OpenParams{
		Output: &hostapi.StreamParameters{
			Device:           device,
			ChannelCount:     channels,
			SampleFormat:     bufferprocessor.FormatFloat32,
			SuggestedLatency: 0.1,
			Flags:            flags,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: viper.GetInt("framesperbuffer"),
	})
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer strm.Close()

	if err := strm.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer strm.Stop()

	slog.Info("playing", "file", args[0], "channels", channels, "sampleRate", sampleRate)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	buf := make([]float32, channels*1024)
	for {
		select {
		case <-stop:
			slog.Info("interrupted")
			return nil
		default:
		}

		n, readErr := source.Read(buf)
		n -= n % channels // Write expects whole interleaved frames
		if n > 0 {
			if _, writeErr := strm.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write stream: %w", writeErr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				slog.Info("playback finished")
				return nil
			}
			return fmt.Errorf("read wav file: %w", readErr)
		}
	}
}
