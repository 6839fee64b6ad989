package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// AlertSeedFile is the optional YAML document that seeds alert rules and
// notification channels at notifier startup. Ids are assigned on insert; the
// file only describes desired rules, it is not the store of record.
type AlertSeedFile struct {
	Rules    []RuleSeed    `yaml:"rules"`
	Channels []ChannelSeed `yaml:"channels"`
}

type RuleSeed struct {
	Name               string   `yaml:"name"`
	Priority           string   `yaml:"priority"`
	PersonIDs          []string `yaml:"person_ids"`
	CameraIDs          []string `yaml:"camera_ids"`
	ExcludedPersons    []string `yaml:"excluded_persons"`
	AnyPerson          bool     `yaml:"any_person"`
	ConfidenceMin      float64  `yaml:"confidence_min"`
	ConfidenceMax      float64  `yaml:"confidence_max"`
	CooldownMinutes    int      `yaml:"cooldown_minutes"`
	EscalationMinutes  int      `yaml:"escalation_minutes"`
	AutoResolveMinutes int      `yaml:"auto_resolve_minutes"`
	Channels           []string `yaml:"channels"` // channel names, resolved to ids on seed
	Template           string   `yaml:"template"`
}

type ChannelSeed struct {
	Name               string            `yaml:"name"`
	Type               string            `yaml:"type"` // email | sms | webhook | websocket
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
	RetryAttempts      int               `yaml:"retry_attempts"`
	TimeoutSeconds     int               `yaml:"timeout_seconds"`
	Settings           map[string]string `yaml:"settings"`
}

// LoadAlertSeed parses the seed file at path.
func LoadAlertSeed(path string) (*AlertSeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f AlertSeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse alert seed %s: %w", path, err)
	}
	return &f, nil
}

// WatchAlertSeed reloads the seed file on write and invokes onReload.
// Falls back to 60s polling when fsnotify is unavailable.
func WatchAlertSeed(ctx context.Context, path string, onReload func(*AlertSeedFile)) {
	reload := func() {
		f, err := LoadAlertSeed(path)
		if err != nil {
			log.Printf("[WARN] Alert seed watcher: reload failed: %v", err)
			return
		}
		onReload(f)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(path)
	}
	if err != nil {
		log.Printf("[WARN] Alert seed watcher: fsnotify unavailable (%v), polling every 60s", err)
		go func() {
			ticker := time.NewTicker(60 * time.Second)
			defer ticker.Stop()
			var lastMod time.Time
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					st, err := os.Stat(path)
					if err != nil {
						continue
					}
					if st.ModTime().After(lastMod) {
						lastMod = st.ModTime()
						reload()
					}
				}
			}
		}()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Debounce: editors often write twice in quick succession.
					time.Sleep(100 * time.Millisecond)
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] Alert seed watcher: %v", err)
			}
		}
	}()
}
