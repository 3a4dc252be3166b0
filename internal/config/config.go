// Package config handles loading, defaulting, and validation of Night
// Watch's TOML configuration file. Every section maps to a typed struct so
// the rest of the codebase gets strong typing without manual key lookups,
// following the same pattern as the daemon's upstream ancestor.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/milesburton/night-watch/internal/satellite"
)

// Config is the top-level configuration: the receiver's hardware and
// scheduling settings plus the satellite catalog and server settings.
type Config struct {
	Receiver  ReceiverConfig          `toml:"receiver"  json:"receiver"`
	Satellite []satellite.Satellite   `toml:"satellite" json:"satellite"`
	SSTV      SSTVScanConfig          `toml:"sstv"      json:"sstv"`
	Predict   PredictConfig           `toml:"predict"   json:"predict"`
	Server    ServerConfig            `toml:"server"    json:"server"`
}

// ReceiverConfig describes the receiver hardware and recording policy.
// It is process-wide and immutable after boot.
type ReceiverConfig struct {
	Latitude          float64 `toml:"latitude"            json:"latitude"`
	Longitude         float64 `toml:"longitude"           json:"longitude"`
	AltitudeMeters    float64 `toml:"altitude_meters"     json:"altitude_meters"`
	UseGPSD           bool    `toml:"use_gpsd"            json:"use_gpsd"`
	GPSDHost          string  `toml:"gpsd_host"           json:"gpsd_host"`

	DeviceIndex       int     `toml:"device_index"        json:"device_index"`
	Gain              float64 `toml:"gain"                json:"gain"`
	PPMCorrection     int     `toml:"ppm_correction"      json:"ppm_correction"`
	SampleRate        int     `toml:"sample_rate"         json:"sample_rate"`

	RecordingsDir     string  `toml:"recordings_dir"      json:"recordings_dir"`
	ImagesDir         string  `toml:"images_dir"          json:"images_dir"`

	MinElevationDeg   float64 `toml:"min_elevation_deg"   json:"min_elevation_deg"`
	MinSignalStrength float64 `toml:"min_signal_strength" json:"min_signal_strength"`
	SkipSignalCheck   bool    `toml:"skip_signal_check"   json:"skip_signal_check"`

	ServiceMode       bool    `toml:"service_mode"        json:"service_mode"`
	LogLevel          string  `toml:"log_level"           json:"log_level"`

	LRPTDecoderPath   string  `toml:"lrpt_decoder_path"   json:"lrpt_decoder_path"`
}

// SSTVScanConfig configures the opportunistic ground-SSTV scanner. The scan
// frequency list is a config item, not a hardcoded constant, so operators
// can add or remove entries without a rebuild.
type SSTVScanConfig struct {
	Enabled           bool  `toml:"enabled"             json:"enabled"`
	ScanFrequenciesHz []int `toml:"scan_frequencies_hz" json:"scan_frequencies_hz"`
	IdleThresholdSec  int   `toml:"idle_threshold_sec"  json:"idle_threshold_sec"`
	SafetyMarginSec   int   `toml:"safety_margin_sec"   json:"safety_margin_sec"`
	PrePassLeadSec    int   `toml:"pre_pass_lead_sec"   json:"pre_pass_lead_sec"`
	DwellSec          int   `toml:"dwell_sec"           json:"dwell_sec"`
	BandHalfWidthHz   int   `toml:"band_half_width_hz"  json:"band_half_width_hz"`
	RecordDurationSec int   `toml:"record_duration_sec" json:"record_duration_sec"`
}

// PredictConfig configures TLE fetching and pass lookahead.
type PredictConfig struct {
	TLEURL          string `toml:"tle_url"           json:"tle_url"`
	TLERefreshHours int    `toml:"tle_refresh_hours" json:"tle_refresh_hours"`
	LookaheadHours  int    `toml:"lookahead_hours"   json:"lookahead_hours"`
	DataDir         string `toml:"data_dir"          json:"data_dir"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Bind     string `toml:"bind"      json:"bind"`
	StoreDSN string `toml:"store_dsn" json:"store_dsn"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Receiver: ReceiverConfig{
			GPSDHost:          "localhost:2947",
			DeviceIndex:       0,
			Gain:              40.0,
			PPMCorrection:     0,
			SampleRate:        48000,
			RecordingsDir:     "/var/lib/nightwatch/recordings",
			ImagesDir:         "/var/lib/nightwatch/images",
			MinElevationDeg:   10,
			MinSignalStrength: -35,
			SkipSignalCheck:   false,
			ServiceMode:       false,
			LogLevel:          "info",
			LRPTDecoderPath:   "meteor_decode",
		},
		Satellite: satellite.DefaultCatalog(),
		SSTV: SSTVScanConfig{
			Enabled:           true,
			ScanFrequenciesHz: []int{145800000},
			IdleThresholdSec:  120,
			SafetyMarginSec:   30,
			PrePassLeadSec:    10,
			DwellSec:          20,
			BandHalfWidthHz:   5000,
			RecordDurationSec: 150,
		},
		Predict: PredictConfig{
			TLEURL:          "https://celestrak.org/NORAD/elements/gp.php?GROUP=weather&FORMAT=tle",
			TLERefreshHours: 24,
			LookaheadHours:  24,
			DataDir:         "/var/lib/nightwatch",
		},
		Server: ServerConfig{
			Bind:     "0.0.0.0:8080",
			StoreDSN: "/var/lib/nightwatch/nightwatch.db",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated (the config_invalid error kind).
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate runs the fail-fast constraint checks behind the config_invalid
// error kind.
func Validate(cfg Config) error {
	if cfg.Receiver.RecordingsDir == "" {
		return errors.New("receiver.recordings_dir must not be empty")
	}
	if cfg.Receiver.ImagesDir == "" {
		return errors.New("receiver.images_dir must not be empty")
	}
	if cfg.Receiver.SampleRate <= 0 {
		return errors.New("receiver.sample_rate must be > 0")
	}
	if cfg.Receiver.Gain < 0 || cfg.Receiver.Gain > 49 {
		return fmt.Errorf("receiver.gain must be between 0 and 49, got %.1f", cfg.Receiver.Gain)
	}
	if cfg.Receiver.MinElevationDeg < 0 || cfg.Receiver.MinElevationDeg > 90 {
		return errors.New("receiver.min_elevation_deg must be between 0 and 90")
	}
	if cfg.Predict.TLERefreshHours < 1 {
		return errors.New("predict.tle_refresh_hours must be >= 1")
	}
	if cfg.Predict.LookaheadHours < 1 {
		return errors.New("predict.lookahead_hours must be >= 1")
	}
	if cfg.SSTV.Enabled {
		if cfg.SSTV.IdleThresholdSec <= 0 {
			return errors.New("sstv.idle_threshold_sec must be > 0 when sstv.enabled")
		}
		if cfg.SSTV.DwellSec <= 0 {
			return errors.New("sstv.dwell_sec must be > 0 when sstv.enabled")
		}
	}
	for _, s := range cfg.Satellite {
		if s.Kind != satellite.SignalLRPT && s.Kind != satellite.SignalSSTV {
			return fmt.Errorf("satellite %q: unknown signal kind %q", s.Name, s.Kind)
		}
	}
	return nil
}
