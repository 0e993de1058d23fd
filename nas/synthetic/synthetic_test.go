package synthetic

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/supernet/nas"
	"github.com/inference-sim/supernet/nas/dist"
	"github.com/inference-sim/supernet/nas/distill"
)

func smallLoader(seed int64) *Loader {
	return NewLoader(LoaderConfig{
		Batches:    3,
		BatchSize:  2,
		Channels:   3,
		InputSize:  nas.Resolution{Height: 64, Width: 64},
		MaxBoxes:   4,
		NumClasses: 80,
	}, rand.New(rand.NewSource(seed)))
}

func TestSupernet_FeatureArityAndNeckWidthAreConfigInvariant(t *testing.T) {
	// GIVEN every extreme config of the default space
	cfg := nas.DefaultTrainConfig()
	space := cfg.Search.Space()
	sampler := nas.NewSampler(rand.New(rand.NewSource(1)))
	backbone, neck := NewBackbone(), NewNeck(16)
	batch, err := smallLoader(1).Load(context.Background(), 0)
	require.NoError(t, err)

	// WHEN each one is forwarded
	var shapes [][4]int
	for _, arch := range sampler.SampleSandwichSet(space) {
		backbone.SetArch(arch)
		neck.SetArch(arch)
		feats := neck.Forward(backbone.Forward(batch.Images))
		require.Len(t, feats, 3)
		if shapes == nil {
			for _, f := range feats {
				shapes = append(shapes, f.Shape())
			}
			continue
		}
		// THEN the neck output shapes never change
		for i, f := range feats {
			assert.Equal(t, shapes[i], f.Shape())
		}
	}
	assert.Equal(t, [4]int{2, 16, 8, 8}, shapes[0])
}

func TestBackbone_Channels_FollowWidenFactor(t *testing.T) {
	b := NewBackbone()
	assert.Equal(t, 64, b.Channels(4))
	b.SetArch(nas.ArchitectureConfig{WidenFactor: []float64{1, 1, 1, 1, 0.125}})
	assert.Equal(t, 8, b.Channels(4))
	b.SetArch(nas.ArchitectureConfig{WidenFactor: []float64{0.125, 1, 1, 1, 1}})
	assert.Equal(t, 1, b.Channels(0))
	assert.Equal(t, 2, b.SetCalls)
}

func TestHead_ForwardTrain_PositiveLosses(t *testing.T) {
	batch, err := smallLoader(2).Load(context.Background(), 0)
	require.NoError(t, err)
	feats := NewNeck(8).Forward(NewBackbone().Forward(batch.Images))

	losses, err := NewHead().ForwardTrain(feats, batch.Metas, batch.Boxes, batch.Labels)

	require.NoError(t, err)
	assert.Greater(t, losses.Cls, 0.0)
	assert.Greater(t, losses.Bbox, 0.0)
	assert.Greater(t, losses.Obj, 0.0)
}

func TestHead_ForwardTrain_BatchMismatch(t *testing.T) {
	batch, err := smallLoader(2).Load(context.Background(), 0)
	require.NoError(t, err)
	feats := NewNeck(8).Forward(NewBackbone().Forward(batch.Images))

	_, err = NewHead().ForwardTrain(feats, batch.Metas, batch.Boxes[:1], batch.Labels)
	assert.Error(t, err)

	_, err = NewHead().ForwardTrain(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestLoader_BoundsAndBoxes(t *testing.T) {
	l := smallLoader(3)
	assert.Equal(t, 3, l.Len())

	_, err := l.Load(context.Background(), 3)
	assert.Error(t, err)

	batch, err := l.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Size())
	for n, bs := range batch.Boxes {
		require.NotEmpty(t, bs)
		assert.Len(t, batch.Labels[n], len(bs))
		for _, b := range bs {
			assert.Less(t, b[0], b[2])
			assert.Less(t, b[1], b[3])
			assert.LessOrEqual(t, b[2], 64.0)
			assert.LessOrEqual(t, b[3], 64.0)
		}
	}
}

func TestLoader_SameSeed_SameBatches(t *testing.T) {
	a, err := smallLoader(9).Load(context.Background(), 0)
	require.NoError(t, err)
	b, err := smallLoader(9).Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, a.Images.Data, b.Images.Data)
	assert.Equal(t, a.Boxes, b.Boxes)
}

func TestLoader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := smallLoader(1).Load(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizer_MomentumStep(t *testing.T) {
	// GIVEN plain momentum SGD without weight decay
	o := NewOptimizer(nas.OptimizerConfig{LR: 0.1, Momentum: 0.9})
	ctx := context.Background()

	// WHEN two steps with gradient 1 are applied
	for i := 0; i < 2; i++ {
		require.NoError(t, o.Backward(ctx, &nas.StepOutput{Loss: 2}, 0.5))
		require.NoError(t, o.Step(ctx))
		o.ZeroGrad()
	}

	// THEN velocity is 1 then 1.9, so the parameter drops by 0.29
	assert.InDelta(t, 0.71, o.Param, 1e-12)
	assert.Equal(t, 2, o.Steps)
	assert.Equal(t, 2, o.Backwards)
	assert.Zero(t, o.Grad())
}

func TestOptimizer_ClipGradNorm(t *testing.T) {
	o := NewOptimizer(nas.OptimizerConfig{LR: 1})
	require.NoError(t, o.Backward(context.Background(), &nas.StepOutput{Loss: -10}, 1))

	norm := o.ClipGradNorm(4, 2)

	assert.Equal(t, 10.0, norm)
	assert.InDelta(t, -4.0, o.Grad(), 1e-12)
}

func TestYAMLCheckpointer_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	saver := &YAMLCheckpointer{Dir: dir}
	meta := nas.CheckpointMeta{
		RunID:     "3f1c",
		Epoch:     4,
		Iter:      120,
		Seed:      7,
		InputSize: nas.Resolution{Height: 576, Width: 576},
		Host:      "node-1",
		SavedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, saver.Save(context.Background(), meta))

	for _, name := range []string{"epoch_4.yaml", "latest.yaml"} {
		got, err := LoadCheckpointMeta(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, meta.SavedAt.Equal(got.SavedAt))
		got.SavedAt = meta.SavedAt
		assert.Equal(t, meta, *got)
	}
}

func TestLoadCheckpointMeta_Missing(t *testing.T) {
	_, err := LoadCheckpointMeta(filepath.Join(t.TempDir(), "latest.yaml"))
	assert.Error(t, err)
}

func TestDetector_WithSyntheticSupernet_NonLocalSandwich(t *testing.T) {
	// GIVEN a detector over the synthetic super-network with NonLocal distillation
	cfg := nas.DefaultTrainConfig()
	cfg.Resize.InputSize = nas.Resolution{Height: 64, Width: 64}
	cfg.Distill = nas.DistillConfig{Variant: distill.VariantNonLocal, Weight: 1, NonLocalReduction: 4}
	key := nas.NewRunKey(cfg.Seed)
	rngs := nas.NewPartitionedRNG(key)
	resizer := nas.NewResizer(cfg.Resize, dist.Single{}, rngs.ForSubsystem(nas.SubsystemResize))
	det := nas.NewDetector(cfg.DetectorConfig(), NewBackbone(), NewNeck(8), NewHead(), resizer,
		rngs.ForSubsystem(nas.SubsystemDistill))
	sampler := nas.NewSampler(rngs.ForSubsystem(nas.SubsystemSampler))
	det.ApplyConfigSet(sampler.SampleSandwichSet(cfg.Search.Space()))

	// WHEN one step runs
	batch, err := smallLoader(1).Load(context.Background(), 0)
	require.NoError(t, err)
	out, err := det.TrainStep(context.Background(), batch)

	// THEN all 15 terms are present and the total is finite
	require.NoError(t, err)
	assert.Len(t, out.Losses, 15)
	assert.Greater(t, out.Loss, 0.0)
	assert.Equal(t, "NonLocal", det.Distillation().Name())
}
