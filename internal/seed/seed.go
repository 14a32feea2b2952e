// Package seed loads the bot roster from YAML files at startup. Bots
// sourced from YAML are re-asserted on every boot; bots created through
// the API are left alone.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/botastrophic/botastrophic/internal/store"
)

const sourceYAML = "yaml"

// botFile is one YAML document describing a bot. The personality config
// keys are passed through opaquely; the engine parses them later.
type botFile struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Paused bool           `yaml:"paused"`
	Config map[string]any `yaml:"config"`
}

// wrapped allows an optional top-level `bot:` key around the document.
type wrapped struct {
	Bot *botFile `yaml:"bot"`
}

// LoadDir reads every .yaml/.yml file in dir and upserts the bots it
// finds. A missing directory is not an error; a fleet can run purely on
// API-created bots.
func LoadDir(ctx context.Context, st store.Store, logger *zap.Logger, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no bot config directory, skipping seed", zap.String("dir", dir))
			return 0, nil
		}
		return 0, fmt.Errorf("read bot config dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := loadFile(ctx, st, path); err != nil {
			return loaded, fmt.Errorf("seed %s: %w", name, err)
		}
		logger.Info("seeded bot config", zap.String("file", name))
		loaded++
	}
	return loaded, nil
}

func loadFile(ctx context.Context, st store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	bf, err := parseBotFile(data)
	if err != nil {
		return err
	}
	return upsert(ctx, st, bf)
}

func parseBotFile(data []byte) (botFile, error) {
	var w wrapped
	if err := yaml.Unmarshal(data, &w); err == nil && w.Bot != nil {
		return validate(*w.Bot)
	}
	var bf botFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return botFile{}, fmt.Errorf("parse yaml: %w", err)
	}
	return validate(bf)
}

func validate(bf botFile) (botFile, error) {
	if strings.TrimSpace(bf.ID) == "" {
		return botFile{}, fmt.Errorf("bot id is required")
	}
	if strings.TrimSpace(bf.Name) == "" {
		bf.Name = bf.ID
	}
	return bf, nil
}

// upsert writes the bot, overwriting only when the existing row also came
// from YAML. An id collision with an API-created bot is an error rather
// than a silent overwrite.
func upsert(ctx context.Context, st store.Store, bf botFile) error {
	raw, err := json.Marshal(bf.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	existing, err := st.GetBot(ctx, bf.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load bot %s: %w", bf.ID, err)
		}
		bot := store.Bot{
			ID:        bf.ID,
			Name:      bf.Name,
			Config:    raw,
			Source:    sourceYAML,
			Paused:    bf.Paused,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.CreateBot(ctx, bot); err != nil {
			return fmt.Errorf("create bot %s: %w", bf.ID, err)
		}
		return nil
	}

	if existing.Source != sourceYAML {
		return fmt.Errorf("bot id %s already exists with source %q", bf.ID, existing.Source)
	}

	existing.Name = bf.Name
	existing.Config = raw
	existing.Paused = bf.Paused
	if err := st.UpdateBot(ctx, existing); err != nil {
		return fmt.Errorf("update bot %s: %w", bf.ID, err)
	}
	return nil
}
