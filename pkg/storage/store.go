// Package storage holds the anomaly snapshot type and the stores it is
// published to.
//
// A Snapshot is always replaced as a whole: stores never expose a partially
// updated value. MemoryStore is the authoritative copy the detector serves
// from; RedisStore mirrors the latest snapshot for consumers outside the
// process.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EntityState is the derived anomaly state of one monitored entity.
type EntityState struct {
	Flag      int     `json:"flag"`
	Score     float64 `json:"score"`
	ErrorRate float64 `json:"errorRate"`
}

// Snapshot is the complete set of entity states computed by one tick.
type Snapshot struct {
	Services  map[string]EntityState
	UpdatedAt time.Time
}

// NewSnapshot returns a snapshot with zero-valued states for every entity.
func NewSnapshot(entities []string, at time.Time) Snapshot {
	services := make(map[string]EntityState, len(entities))
	for _, e := range entities {
		services[e] = EntityState{}
	}
	return Snapshot{Services: services, UpdatedAt: at}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	services := make(map[string]EntityState, len(s.Services))
	for k, v := range s.Services {
		services[k] = v
	}
	return Snapshot{Services: services, UpdatedAt: s.UpdatedAt}
}

type snapshotJSON struct {
	Services  map[string]EntityState `json:"services"`
	UpdatedAt float64                `json:"updatedAt"`
}

// MarshalJSON encodes the snapshot with updatedAt as fractional unix seconds.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	services := s.Services
	if services == nil {
		services = map[string]EntityState{}
	}
	return json.Marshal(snapshotJSON{
		Services:  services,
		UpdatedAt: UnixSeconds(s.UpdatedAt),
	})
}

// UnmarshalJSON decodes the format produced by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	s.Services = raw.Services
	if s.Services == nil {
		s.Services = map[string]EntityState{}
	}
	s.UpdatedAt = FromUnixSeconds(raw.UpdatedAt)
	return nil
}

// UnixSeconds converts t to fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromUnixSeconds is the inverse of UnixSeconds, at microsecond precision.
func FromUnixSeconds(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}

// Store publishes and retrieves the latest snapshot.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context) (Snapshot, bool, error)
}
