// Package config loads the fixed membership set and the tunable settings
// used throughout the consensus engine. Membership comes from a plain text
// file (one 'memberId,host,port' line per member); tunables come from an
// optional '.yaml' file and fall back to built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Member is one participant of the membership set.
type Member struct {
	ID   string
	Host string
	Port int
}

// Addr returns the dialable address of the member.
func (m Member) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// IdNum extracts the numeric suffix of a member id of form M<k>.
func IdNum(id string) (int, error) {
	if len(id) < 2 || id[0] != 'M' {
		return 0, fmt.Errorf("config: member id %q is not of form M<k>", id)
	}
	k, err := strconv.Atoi(id[1:])
	if err != nil || k < 1 {
		return 0, fmt.Errorf("config: member id %q has no valid numeric suffix", id)
	}
	return k, nil
}

// LoadMembers parses a membership file. Empty lines and lines starting with
// '#' are skipped; every other line must be 'memberId,host,port'.
func LoadMembers(path string) ([]Member, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading membership file: %v", err)
	}

	var members []Member
	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("config: line %d: want 'memberId,host,port', got %q", i+1, line)
		}
		id := strings.TrimSpace(fields[0])
		if _, err := IdNum(id); err != nil {
			return nil, fmt.Errorf("config: line %d: %v", i+1, err)
		}
		port, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("config: line %d: bad port %q", i+1, fields[2])
		}
		members = append(members, Member{
			ID:   id,
			Host: strings.TrimSpace(fields[1]),
			Port: port,
		})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("config: membership file %s declares no members", path)
	}
	return members, nil
}

// FindMember returns the member with the given id.
func FindMember(members []Member, id string) (Member, error) {
	for _, m := range members {
		if m.ID == id {
			return m, nil
		}
	}
	return Member{}, fmt.Errorf("config: member %q not found in membership set", id)
}

// Profile holds the fault-injection parameters of one transport profile.
// Drops and delays live entirely in the transport layer; the crash timer is
// armed by the host process. The consensus core never sees any of this.
type Profile struct {
	DROP_RATE      float64 `yaml:"drop_rate"`      // probability of dropping an outbound message
	DELAY_MIN_MS   int     `yaml:"delay_min_ms"`   // lower bound of the extra send delay
	DELAY_MAX_MS   int     `yaml:"delay_max_ms"`   // upper bound of the extra send delay
	CRASH_AFTER_MS int     `yaml:"crash_after_ms"` // forced process crash; 0 means never
}

// Conf holds the tunable settings of one member process.
type Conf struct {
	PREPARE_TIMEOUT_MS  int   `yaml:"prepare_timeout_ms"`  // phase-1 quorum deadline
	ACCEPT_TIMEOUT_MS   int   `yaml:"accept_timeout_ms"`   // phase-2 quorum deadline
	RETRY_JITTER_MIN_MS int   `yaml:"retry_jitter_min_ms"` // lower bound of the re-propose jitter
	RETRY_JITTER_MAX_MS int   `yaml:"retry_jitter_max_ms"` // upper bound (exclusive) of the re-propose jitter
	DIAL_TIMEOUT_MS     int   `yaml:"dial_timeout_ms"`     // hard deadline on connect+write
	READ_TIMEOUT_MS     int   `yaml:"read_timeout_ms"`     // hard deadline on reading one inbound line
	WORKERS             int   `yaml:"workers"`             // size of the inbound worker pool
	QUORUM              int   `yaml:"quorum"`              // computed from the membership size when 0
	SEED                int64 `yaml:"seed"`                // RNG seed; 0 seeds from the clock

	SEEK_DISABLED  bool    `yaml:"seek_disabled"`  // turns off the periodic decision re-advertising
	SEEK_PERIOD_MS int     `yaml:"seek_period_ms"` // period of the re-advertising task
	PR_NODES       float64 `yaml:"pr_nodes"`       // probability of picking a peer per seek round

	DB_TYPE    string `yaml:"db_type"` // round/decision recorder: none, sqlite or redis
	DB_PATH    string `yaml:"db_path"`
	REDIS_ADDR string `yaml:"redis_addr"`

	PROFILES map[string]Profile `yaml:"profiles"` // overrides of the built-in profiles
}

// LoadSettingsFile loads the '.yaml' settings file onto the callee Conf
// object. A missing file is not an error; every field has a default.
func (c *Conf) LoadSettingsFile(fn string) error {
	raw, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading settings file: %v", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parsing settings file: %v", err)
	}
	return nil
}

// FillEmptyFields fills in those fields that were left empty in the '.yaml'
// file or that need a run-time computation.
func (c *Conf) FillEmptyFields(memberCount int) {
	if c.PREPARE_TIMEOUT_MS == 0 {
		c.PREPARE_TIMEOUT_MS = 2500
	}
	if c.ACCEPT_TIMEOUT_MS == 0 {
		c.ACCEPT_TIMEOUT_MS = 2500
	}
	if c.RETRY_JITTER_MIN_MS == 0 {
		c.RETRY_JITTER_MIN_MS = 50
	}
	if c.RETRY_JITTER_MAX_MS == 0 {
		c.RETRY_JITTER_MAX_MS = 200
	}
	if c.DIAL_TIMEOUT_MS == 0 {
		c.DIAL_TIMEOUT_MS = 2000
	}
	if c.READ_TIMEOUT_MS == 0 {
		c.READ_TIMEOUT_MS = 2000
	}
	if c.WORKERS == 0 {
		c.WORKERS = 16
	}
	if c.QUORUM == 0 {
		c.QUORUM = memberCount/2 + 1
	}
	if c.SEEK_PERIOD_MS == 0 {
		c.SEEK_PERIOD_MS = 5000
	}
	if c.PR_NODES == 0 {
		c.PR_NODES = 0.5
	}
	if c.DB_TYPE == "" {
		c.DB_TYPE = "none"
	}
}

// ProfileByName resolves a transport profile, applying any override from
// the settings file on top of the built-in defaults. Overrides merge field
// by field, so a partial override leaves the remaining defaults in place.
func (c *Conf) ProfileByName(name string) (Profile, error) {
	p, ok := defaultProfiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("config: unknown profile %q", name)
	}
	if override, ok := c.PROFILES[name]; ok {
		if override.DROP_RATE != 0 {
			p.DROP_RATE = override.DROP_RATE
		}
		if override.DELAY_MIN_MS != 0 {
			p.DELAY_MIN_MS = override.DELAY_MIN_MS
		}
		if override.DELAY_MAX_MS != 0 {
			p.DELAY_MAX_MS = override.DELAY_MAX_MS
		}
		if override.CRASH_AFTER_MS != 0 {
			p.CRASH_AFTER_MS = override.CRASH_AFTER_MS
		}
	}
	return p, nil
}

var defaultProfiles = map[string]Profile{
	"reliable": {},
	"latent":   {DELAY_MIN_MS: 200, DELAY_MAX_MS: 1500},
	"failure":  {CRASH_AFTER_MS: 3000},
	"standard": {DROP_RATE: 0.15, DELAY_MAX_MS: 800},
}

// Duration helpers; settings are stored as integral milliseconds.

func (c *Conf) PrepareTimeout() time.Duration {
	return time.Duration(c.PREPARE_TIMEOUT_MS) * time.Millisecond
}

func (c *Conf) AcceptTimeout() time.Duration {
	return time.Duration(c.ACCEPT_TIMEOUT_MS) * time.Millisecond
}

func (c *Conf) DialTimeout() time.Duration {
	return time.Duration(c.DIAL_TIMEOUT_MS) * time.Millisecond
}

func (c *Conf) ReadTimeout() time.Duration {
	return time.Duration(c.READ_TIMEOUT_MS) * time.Millisecond
}

func (c *Conf) SeekPeriod() time.Duration {
	return time.Duration(c.SEEK_PERIOD_MS) * time.Millisecond
}
