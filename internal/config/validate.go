// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"math"
	"net"
	"strings"

	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/sockops"
)

// ValidationError describes a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateTCPProfiles()...)
	errs = append(errs, c.validateJA3Profiles()...)

	return errs
}

func (c *Config) validateEngine() ValidationErrors {
	var errs ValidationErrors
	if c.Engine == nil {
		return nil
	}
	if _, err := sockops.ParseSuccessPolicy(c.Engine.SuccessPolicy); err != nil {
		errs = append(errs, ValidationError{Field: "engine.success_policy", Message: err.Error()})
	}
	if _, err := sockops.ParsePassivePolicy(c.Engine.PassivePolicy); err != nil {
		errs = append(errs, ValidationError{Field: "engine.passive_policy", Message: err.Error()})
	}
	if c.Engine.TriggerQueue < 0 {
		errs = append(errs, ValidationError{Field: "engine.trigger_queue", Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateMetrics() ValidationErrors {
	if c.Metrics == nil || !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return ValidationErrors{{Field: "metrics.listen", Message: err.Error()}}
	}
	return nil
}

func (c *Config) validateTCPProfiles() ValidationErrors {
	var errs ValidationErrors

	if len(c.TCPProfiles) > profile.MaxTCPProfiles {
		errs = append(errs, ValidationError{
			Field:   "tcp_profile",
			Message: fmt.Sprintf("%d profiles exceed table capacity %d", len(c.TCPProfiles), profile.MaxTCPProfiles),
		})
	}

	names := make(map[string]bool)
	pids := make(map[uint32]string)
	for _, p := range c.TCPProfiles {
		field := fmt.Sprintf("tcp_profile.%s", p.Name)
		if names[p.Name] {
			errs = append(errs, ValidationError{Field: field, Message: "duplicate profile name"})
		}
		names[p.Name] = true

		if p.PID == 0 {
			errs = append(errs, ValidationError{Field: field + ".pid", Message: "pid is required"})
		} else if other, ok := pids[p.PID]; ok {
			errs = append(errs, ValidationError{Field: field + ".pid", Message: fmt.Sprintf("pid %d already used by %q", p.PID, other)})
		} else {
			pids[p.PID] = p.Name
		}

		if err := p.Profile().Validate(); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}
	return errs
}

func (c *Config) validateJA3Profiles() ValidationErrors {
	var errs ValidationErrors

	if len(c.JA3Profiles) > profile.MaxJA3Profiles {
		errs = append(errs, ValidationError{
			Field:   "ja3_profile",
			Message: fmt.Sprintf("%d profiles exceed table capacity %d", len(c.JA3Profiles), profile.MaxJA3Profiles),
		})
	}

	names := make(map[string]bool)
	pids := make(map[uint32]string)
	for _, p := range c.JA3Profiles {
		field := fmt.Sprintf("ja3_profile.%s", p.Name)
		if names[p.Name] {
			errs = append(errs, ValidationError{Field: field, Message: "duplicate profile name"})
		}
		names[p.Name] = true

		if p.PID == 0 {
			errs = append(errs, ValidationError{Field: field + ".pid", Message: "pid is required"})
		} else if other, ok := pids[p.PID]; ok {
			errs = append(errs, ValidationError{Field: field + ".pid", Message: fmt.Sprintf("pid %d already used by %q", p.PID, other)})
		} else {
			pids[p.PID] = p.Name
		}

		if _, err := p.Profile(); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}
	return errs
}

// Profile converts the block to a store record.
func (p TCPProfileConfig) Profile() profile.TCPProfile {
	return profile.TCPProfile{
		WindowSize:              p.WindowSize,
		TTL:                     p.TTL,
		MSS:                     p.MSS,
		WindowScale:             p.WindowScale,
		SACKPermitted:           p.SACKPermitted,
		Timestamps:              p.Timestamps,
		NoDelay:                 p.NoDelay,
		InitialCongestionWindow: p.InitialCongestionWindow,
		ECN:                     p.ECN,
		FastOpen:                p.FastOpen,
	}
}

// Profile converts the block to a store record, rejecting oversized lists.
func (p JA3ProfileConfig) Profile() (profile.JA3Profile, error) {
	formats := make([]uint8, 0, len(p.PointFormats))
	for _, f := range p.PointFormats {
		if f > math.MaxUint8 {
			return profile.JA3Profile{}, errors.Errorf(errors.KindValidation, "point format %d does not fit in a byte", f)
		}
		formats = append(formats, uint8(f))
	}
	return profile.NewJA3Profile(p.TLSVersion, p.Ciphers, p.Extensions, p.Curves, formats, p.IsEnabled())
}
