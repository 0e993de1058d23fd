package synthetic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/supernet/nas"
)

// YAMLCheckpointer writes each checkpoint's progress record to
// <Dir>/epoch_<N>.yaml and mirrors it to <Dir>/latest.yaml.
type YAMLCheckpointer struct {
	Dir string
}

func (c *YAMLCheckpointer) Save(ctx context.Context, meta nas.CheckpointMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding checkpoint meta: %w", err)
	}
	for _, name := range []string{fmt.Sprintf("epoch_%d.yaml", meta.Epoch), "latest.yaml"} {
		if err := os.WriteFile(filepath.Join(c.Dir, name), data, 0o644); err != nil {
			return fmt.Errorf("writing checkpoint %s: %w", name, err)
		}
	}
	return nil
}

// LoadCheckpointMeta reads a progress record written by YAMLCheckpointer.
func LoadCheckpointMeta(path string) (*nas.CheckpointMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint meta: %w", err)
	}
	var meta nas.CheckpointMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing checkpoint meta: %w", err)
	}
	return &meta, nil
}
