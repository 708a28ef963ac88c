package harvester

import (
	"errors"
	"strings"
	"time"

	"github.com/devicevault/server/internal/models"
)

// Config is the edge agent configuration
type Config struct {
	ServerURL      string
	DeviceID       string
	DeviceToken    string
	ExportDir      string
	StatePath      string
	Interval       time.Duration
	IntervalJitter float64
	Timeout        time.Duration
	Kinds          []models.DataType
	Watch          bool
}

// Validate checks required fields and clamps the timing knobs
func (c *Config) Validate() error {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.DeviceID = strings.TrimSpace(c.DeviceID)
	c.ExportDir = strings.TrimSpace(c.ExportDir)
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.ExportDir == "" {
		return errors.New("export dir is required")
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	if c.IntervalJitter < 0 {
		c.IntervalJitter = 0
	} else if c.IntervalJitter > 1 {
		c.IntervalJitter = 1
	}
	if len(c.Kinds) == 0 {
		c.Kinds = models.AllDataTypes()
	}
	return nil
}

// ParseKinds parses a comma separated kind list; empty means every kind
func ParseKinds(s string) ([]models.DataType, error) {
	if strings.TrimSpace(s) == "" {
		return models.AllDataTypes(), nil
	}
	var kinds []models.DataType
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		dt, err := models.ParseDataType(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, dt)
	}
	return kinds, nil
}

// JitteredInterval spreads base by ±ratio using sample in [0,1]
func JitteredInterval(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	if ratio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*ratio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
