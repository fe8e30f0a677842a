package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Burner writes an image to physical media with the tool for the media type
type Burner struct {
	Runner      CommandRunner
	Clock       Clock
	SettleDelay time.Duration
	CDTool      string
	GrowTool    string
}

// NewBurner creates a burn driver from the tools and timing config
func NewBurner(runner CommandRunner, clock Clock, tools ToolsConfig, settle time.Duration) *Burner {
	return &Burner{
		Runner:      runner,
		Clock:       clock,
		SettleDelay: settle,
		CDTool:      tools.CD,
		GrowTool:    tools.Growable,
	}
}

// Burn waits for the drive to settle and then writes image to device.
// An unknown media type fails before any wait or tool invocation.
func (b *Burner) Burn(ctx context.Context, media MediaType, device, image string) error {
	if !media.Valid() {
		return fmt.Errorf("%w '%s'", ErrInvalidMediaType, media)
	}

	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "burner",
		"media":     media,
		"device":    device,
		"image":     image,
	})

	if b.SettleDelay > 0 {
		logger.WithField("delay", b.SettleDelay).Info("waiting in case drive is not yet ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.Clock.After(b.SettleDelay):
		}
	}

	logger.Info("beginning image burn")

	switch media {
	case MediaCD:
		return b.Runner.Run(ctx, "burn cd", b.CDTool, "-eject", "dev="+device, image)
	default:
		return b.Runner.Run(ctx, "burn "+string(media), b.GrowTool, "-dvd-compat", "-Z", device+"="+image)
	}
}
