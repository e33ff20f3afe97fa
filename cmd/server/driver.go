package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Nixie-Tech-LLC/inkframe/internal/config"
	"github.com/Nixie-Tech-LLC/inkframe/internal/display"
	"github.com/Nixie-Tech-LLC/inkframe/internal/mqtt"
)

// InitDriver selects the display driver. The returned func releases it.
func InitDriver(cfg *config.Config, logger zerolog.Logger) (display.Driver, func() error, error) {
	switch cfg.DisplayDriver {
	case config.DisplayDriverMQTT:
		d, err := mqtt.Connect(mqtt.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			DeviceID:  cfg.DisplayDeviceID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("topic", mqtt.FrameTopic(cfg.DisplayDeviceID)).Msg("using MQTT display driver")
		return d, func() error { d.Close(); return nil }, nil

	case config.DisplayDriverFile:
		d := display.NewFileDriver(afero.NewOsFs(), cfg.DisplayDir)
		logger.Info().Str("frame", d.FramePath()).Msg("using file display driver")
		return d, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown display driver %q", cfg.DisplayDriver)
}
