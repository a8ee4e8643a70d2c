// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"fmt"
	"math"
	"strings"
)

// Builder setting modes. The builder form on the client submits settings in
// this tri-state shape and the server resolves them to envelope values.
const (
	SettingNoChange  = "no_change"
	SettingUnlimited = "unlimited"
	SettingGlobal    = "global"
	SettingCustom    = "custom"
)

// Speed units accepted from the builder form. Envelope values are always
// KiB/s.
const (
	UnitKiB = "KiB"
	UnitMiB = "MiB"
)

// Share limit sentinels understood by qBittorrent.
const (
	ShareLimitGlobal    = -2
	ShareLimitUnlimited = -1
)

// SpeedLimitSetting is one speed limit as submitted by the builder form.
type SpeedLimitSetting struct {
	Mode  string  `json:"mode"`
	Value float64 `json:"value,omitempty"`
	Unit  string  `json:"unit,omitempty"`
}

// Resolve returns the envelope value for the setting: nil for no change,
// 0 for unlimited, otherwise the limit in KiB/s with MiB values converted
// and rounded.
func (s SpeedLimitSetting) Resolve() (*int64, error) {
	switch s.Mode {
	case "", SettingNoChange:
		return nil, nil
	case SettingUnlimited:
		v := int64(0)
		return &v, nil
	case SettingCustom:
		if s.Value <= 0 {
			return nil, fmt.Errorf("custom speed limit must be positive")
		}
		kib := s.Value
		switch strings.TrimSpace(s.Unit) {
		case "", UnitKiB:
		case UnitMiB:
			kib = s.Value * 1024
		default:
			return nil, fmt.Errorf("unknown speed unit %q", s.Unit)
		}
		v := int64(math.Round(kib))
		if v < 1 {
			v = 1
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown speed limit mode %q", s.Mode)
	}
}

// ShareRatioSetting is the ratio half of a share limit as submitted by the
// builder form.
type ShareRatioSetting struct {
	Mode  string  `json:"mode"`
	Value float64 `json:"value,omitempty"`
}

// Resolve returns the envelope ratio: nil for no change, -2 to follow the
// global limit, -1 for unlimited, otherwise the custom ratio rounded to two
// decimals.
func (s ShareRatioSetting) Resolve() (*float64, error) {
	switch s.Mode {
	case "", SettingNoChange:
		return nil, nil
	case SettingGlobal:
		v := float64(ShareLimitGlobal)
		return &v, nil
	case SettingUnlimited:
		v := float64(ShareLimitUnlimited)
		return &v, nil
	case SettingCustom:
		if s.Value < 0 {
			return nil, fmt.Errorf("custom ratio must be >= 0")
		}
		v := RoundRatio(s.Value)
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown share limit mode %q", s.Mode)
	}
}

// SeedingTimeSetting is the seeding time half of a share limit, in minutes.
type SeedingTimeSetting struct {
	Mode  string `json:"mode"`
	Value int64  `json:"value,omitempty"`
}

// Resolve returns the envelope seeding time in minutes: nil for no change,
// -2 for global, -1 for unlimited, otherwise the custom value.
func (s SeedingTimeSetting) Resolve() (*int64, error) {
	switch s.Mode {
	case "", SettingNoChange:
		return nil, nil
	case SettingGlobal:
		v := int64(ShareLimitGlobal)
		return &v, nil
	case SettingUnlimited:
		v := int64(ShareLimitUnlimited)
		return &v, nil
	case SettingCustom:
		if s.Value < 0 {
			return nil, fmt.Errorf("custom seeding time must be >= 0 minutes")
		}
		v := s.Value
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown seeding time mode %q", s.Mode)
	}
}

// RoundRatio rounds a share ratio to two decimal places, the precision
// qBittorrent keeps.
func RoundRatio(ratio float64) float64 {
	return math.Round(ratio*100) / 100
}
