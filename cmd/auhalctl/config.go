package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("samplerate", 48000.0)
	viper.SetDefault("framesperbuffer", 0) // negotiator.Unspecified: let the negotiator pick
	viper.SetDefault("channels", 2)
	viper.SetDefault("quality", "max")
}

func loadConfig(configFilePath string) {
	setViperDefaults()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				slog.Info("no config file found", "configFilePath", configFilePath)
			} else {
				slog.Error("error during config read", "err", err)
				panic(err)
			}
		}
	}

	if viper.GetFloat64("samplerate") <= 0 {
		slog.Error("invalid sample rate specified", "samplerate", viper.GetFloat64("samplerate"))
		panic("invalid sample rate specified")
	}

	switch viper.GetString("quality") {
	case "low", "medium", "high", "max":
	default:
		slog.Error("invalid resample quality specified", "quality", viper.GetString("quality"))
		panic(fmt.Sprintf("invalid resample quality %q", viper.GetString("quality")))
	}
}

// qualityLevel maps a config string onto the 3-bit StreamInfoFlags quality
// field. "max" is the same zero value as an unset field (§6: an all-zero
// field already means Max). This CLI offers no "min" option.
func qualityLevel(name string) int {
	switch name {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	default: // "max"
		return 0
	}
}
