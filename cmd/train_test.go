package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/supernet/nas"
	"github.com/inference-sim/supernet/nas/synthetic"
	"github.com/inference-sim/supernet/nas/trace"
)

// smallTrainConfig is a fast config: 64x64 input, resolution draws every
// 2 iterations from {32, 64, 96}, sandwich training with L2 distillation.
func smallTrainConfig(t *testing.T) *nas.TrainConfig {
	t.Helper()
	cfg := nas.DefaultTrainConfig()
	cfg.Runner.MaxEpochs = 2
	cfg.Runner.EpochPause = 0
	cfg.Runner.Sandwich = true
	cfg.Distill.Variant = "L2"
	cfg.Resize.InputSize = nas.Resolution{Height: 64, Width: 64}
	cfg.Resize.RandomSizeRange = [2]int{1, 3}
	cfg.Resize.RandomSizeInterval = 2
	cfg.Hooks.Trace = string(trace.TraceLevelArchs)
	cfg.Hooks.LogInterval = 1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return &cfg
}

func smallOptions(world int) trainOptions {
	return trainOptions{RunID: "test-run", Host: "test", WorldSize: world, Batches: 3, BatchSize: 2, NeckChannels: 8}
}

func TestTrain_MultiWorker_TracesEveryIteration(t *testing.T) {
	// GIVEN two in-process workers and a checkpoint directory
	cfg := smallTrainConfig(t)
	cfg.Hooks.CheckpointDir = t.TempDir()

	// WHEN training runs
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tt, err := train(ctx, cfg, smallOptions(2))
	if err != nil {
		t.Fatalf("train: %+v", err)
	}

	// THEN rank 0 traced 2 epochs x 3 batches, 4 configs each
	if len(tt.Iterations) != 6 {
		t.Fatalf("expected 6 traced iterations, got %d", len(tt.Iterations))
	}
	for _, it := range tt.Iterations {
		if len(it.Configs) != 4 {
			t.Errorf("iter %d: %d configs, want 4", it.Iter, len(it.Configs))
		}
		if it.Height%32 != 0 || it.Height < 32 || it.Height > 96 {
			t.Errorf("iter %d: unexpected height %d", it.Iter, it.Height)
		}
	}
	s := trace.Summarize(tt)
	if s.TotalConfigs != 24 {
		t.Errorf("TotalConfigs = %d, want 24", s.TotalConfigs)
	}

	// AND the final progress checkpoint points past the last epoch
	meta, err := synthetic.LoadCheckpointMeta(filepath.Join(cfg.Hooks.CheckpointDir, "latest.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Epoch != 2 || meta.Iter != 6 || meta.RunID != "test-run" {
		t.Errorf("unexpected checkpoint meta %+v", meta)
	}
}

func TestTrain_SingleWorker_SameSeedSameTrace(t *testing.T) {
	cfg := smallTrainConfig(t)
	a, err := train(context.Background(), cfg, smallOptions(1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := train(context.Background(), cfg, smallOptions(1))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Iterations {
		if a.Iterations[i].Height != b.Iterations[i].Height || a.Iterations[i].Loss != b.Iterations[i].Loss {
			t.Fatalf("iteration %d differs between identical runs", i)
		}
	}
}

func TestTrain_ResumeFromFinalCheckpoint_TrainsNothing(t *testing.T) {
	// GIVEN a checkpoint recording that both epochs are done
	dir := t.TempDir()
	saver := &synthetic.YAMLCheckpointer{Dir: dir}
	if err := saver.Save(context.Background(), nas.CheckpointMeta{RunID: "old", Epoch: 2, Iter: 6}); err != nil {
		t.Fatal(err)
	}
	cfg := smallTrainConfig(t)
	opts := smallOptions(1)
	opts.ResumeFrom = filepath.Join(dir, "latest.yaml")

	// WHEN training resumes from it
	tt, err := train(context.Background(), cfg, opts)

	// THEN no iteration runs
	if err != nil {
		t.Fatal(err)
	}
	if len(tt.Iterations) != 0 {
		t.Errorf("expected no iterations after resume, got %d", len(tt.Iterations))
	}
}

func TestTrain_ResumeMidRun_ContinuesAtSavedSize(t *testing.T) {
	// GIVEN a checkpoint after epoch 1 whose next resolution is 96x96
	dir := t.TempDir()
	saver := &synthetic.YAMLCheckpointer{Dir: dir}
	meta := nas.CheckpointMeta{RunID: "old", Epoch: 1, Iter: 3, InputSize: nas.Resolution{Height: 96, Width: 96}}
	if err := saver.Save(context.Background(), meta); err != nil {
		t.Fatal(err)
	}
	opts := smallOptions(1)
	opts.ResumeFrom = filepath.Join(dir, "latest.yaml")

	// WHEN the remaining epoch trains
	tt, err := train(context.Background(), smallTrainConfig(t), opts)
	if err != nil {
		t.Fatal(err)
	}

	// THEN it picks up at iteration 3 with the saved resolution
	if len(tt.Iterations) != 3 {
		t.Fatalf("expected 3 iterations after resume, got %d", len(tt.Iterations))
	}
	first := tt.Iterations[0]
	if first.Iter != 3 || first.Height != 96 || first.Width != 96 {
		t.Errorf("resumed at iter %d size %dx%d, want iter 3 size 96x96", first.Iter, first.Height, first.Width)
	}
}

func TestTrain_InvalidWorldSize(t *testing.T) {
	if _, err := train(context.Background(), smallTrainConfig(t), smallOptions(0)); err == nil {
		t.Error("expected error for world size 0")
	}
}

func TestTrain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := train(ctx, smallTrainConfig(t), smallOptions(2)); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestWriteTrace_WritesYAMLRecords(t *testing.T) {
	tt := trace.NewTrainingTrace(trace.TraceConfig{Level: trace.TraceLevelArchs})
	tt.Record(trace.IterationRecord{Epoch: 0, Iter: 0, Height: 640, Width: 640, Loss: 1.5,
		Configs: []trace.ConfigRecord{{WidenFactor: []float64{0.5}}}})
	path := filepath.Join(t.TempDir(), "trace.yaml")

	if err := writeTrace(path, tt); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []trace.IterationRecord
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Height != 640 || got[0].Configs[0].WidenFactor[0] != 0.5 {
		t.Errorf("unexpected trace contents %+v", got)
	}
}

// TestApplyFlagOverrides_OnlyChangedFlags verifies that flag defaults never
// overwrite values loaded from a config file.
func TestApplyFlagOverrides_OnlyChangedFlags(t *testing.T) {
	// GIVEN a command where only --epochs was set
	c := &cobra.Command{}
	c.Flags().IntVar(&maxEpochs, "epochs", 300, "")
	c.Flags().StringVar(&distillVariant, "distill", "", "")
	c.Flags().BoolVar(&sandwich, "sandwich", false, "")
	if err := c.Flags().Set("epochs", "7"); err != nil {
		t.Fatal(err)
	}
	cfg := nas.DefaultTrainConfig()
	cfg.Distill.Variant = "DML"
	cfg.Runner.Sandwich = true

	// WHEN overrides are applied
	applyFlagOverrides(c, &cfg)

	// THEN epochs changed and the file values survive
	if cfg.Runner.MaxEpochs != 7 {
		t.Errorf("MaxEpochs = %d, want 7", cfg.Runner.MaxEpochs)
	}
	if cfg.Distill.Variant != "DML" || !cfg.Runner.Sandwich {
		t.Errorf("unchanged flags overwrote config: variant=%q sandwich=%v", cfg.Distill.Variant, cfg.Runner.Sandwich)
	}
}
