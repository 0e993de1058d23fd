package nas

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/supernet/nas/distill"
	"github.com/inference-sim/supernet/nas/tensor"
)

// Backbone is the searchable feature extractor of the super-network.
type Backbone interface {
	// SetArch reconfigures the effective width/depth. A dense config restores
	// the super-network default.
	SetArch(arch ArchitectureConfig)
	Forward(images *tensor.Tensor) tensor.Features
}

// Neck fuses backbone features. Its output arity and channel count do not
// depend on the applied config.
type Neck interface {
	SetArch(arch ArchitectureConfig)
	Forward(features tensor.Features) tensor.Features
	OutChannels() int
}

// HeadLosses are the named loss terms returned by the detection head.
type HeadLosses struct {
	Cls  float64
	Bbox float64
	Obj  float64
}

// Head is the detection head. Label assignment and loss computation are
// opaque to the search core.
type Head interface {
	SetArch(arch ArchitectureConfig)
	ForwardTrain(features tensor.Features, metas []ImageMeta, boxes []Boxes, labels [][]int) (HeadLosses, error)
}

// LossMap maps loss names to scalar values.
type LossMap map[string]float64

// Keys returns the loss names in sorted order.
func (m LossMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Loss key prefixes. Keys are suffixed with the config index in the set.
const (
	LossKeyCls     = "loss_cls"
	LossKeyBbox    = "loss_bbox"
	LossKeyObj     = "loss_obj"
	LossKeyDistill = "kd_feat_loss"
)

// SearchFlags select which sub-networks are reconfigured per config.
type SearchFlags struct {
	Backbone bool `yaml:"search_backbone"`
	Neck     bool `yaml:"search_neck"`
	Head     bool `yaml:"search_head"`
}

// DistillConfig selects the in-place distillation loss.
type DistillConfig struct {
	Variant           string  `yaml:"variant"`            // "L2", "L2Softmax", "DML", "NonLocal"; anything else disables distillation
	Weight            float64 `yaml:"weight"`             // multiplies every level's loss
	NonLocalReduction int     `yaml:"nonlocal_reduction"` // embedding width of the NonLocal variant
}

// DetectorConfig groups the detector's construction parameters.
type DetectorConfig struct {
	Search  SearchFlags
	Resize  ResizeConfig
	Distill DistillConfig
}

// Detector is a single-stage detector over a weight-sharing super-network.
//
// It is Unconfigured until ApplyConfig or ApplyConfigSet is called. A config
// set is consumed by the next ForwardTrain and not retained afterwards; the
// last applied single config stays active.
type Detector struct {
	backbone Backbone
	neck     Neck
	head     Head
	resizer  *Resizer

	flags    SearchFlags
	kd       distill.Loss
	kdWeight float64

	defaultSize Resolution
	inputSize   Resolution
	progress    int64

	active  *ArchitectureConfig
	pending ArchitectureConfigSet
}

// NewDetector wires a Detector. rng seeds parameterised distillation losses.
func NewDetector(cfg DetectorConfig, backbone Backbone, neck Neck, head Head, resizer *Resizer, rng *rand.Rand) *Detector {
	kd := distill.New(cfg.Distill.Variant, neck.OutChannels(), cfg.Distill.NonLocalReduction, rng)
	if cfg.Distill.Variant != "" && !distill.Enabled(kd) {
		logrus.Warnf("Unrecognized distillation variant %q; in-place distillation disabled", cfg.Distill.Variant)
	}
	return &Detector{
		backbone:    backbone,
		neck:        neck,
		head:        head,
		resizer:     resizer,
		flags:       cfg.Search,
		kd:          kd,
		kdWeight:    cfg.Distill.Weight,
		defaultSize: cfg.Resize.InputSize,
		inputSize:   cfg.Resize.InputSize,
	}
}

// InputSize returns the resolution the next ForwardTrain trains at.
func (d *Detector) InputSize() Resolution { return d.inputSize }

// Progress returns the number of completed ForwardTrain calls.
func (d *Detector) Progress() int64 { return d.progress }

// Distillation returns the active distillation loss.
func (d *Detector) Distillation() distill.Loss { return d.kd }

// Restore resumes the resize cadence of an interrupted run: progress is the
// number of completed ForwardTrain calls and size the resolution in effect
// when it stopped. A zero size keeps the default resolution.
func (d *Detector) Restore(progress int64, size Resolution) {
	d.progress = progress
	if size.Height > 0 && size.Width > 0 {
		d.inputSize = size
	}
}

// Configured reports whether a config or config set has been applied.
func (d *Detector) Configured() bool {
	return d.active != nil || len(d.pending) > 0
}

// ApplyConfig pushes arch into the sub-networks. Backbone and neck follow
// the backbone search flag. The head follows the neck search flag, not the
// head flag: head search was never wired, and which flag should gate it is
// an open question, so the coupling is kept as is.
func (d *Detector) ApplyConfig(arch ArchitectureConfig) {
	if d.flags.Backbone {
		d.backbone.SetArch(arch)
		d.neck.SetArch(arch)
	}
	if d.flags.Neck {
		d.head.SetArch(arch)
	}
	a := arch
	d.active = &a
}

// ApplyConfigSet stores archs for sandwich training by the next ForwardTrain.
// No config is pushed into the sub-networks yet.
func (d *Detector) ApplyConfigSet(archs ArchitectureConfigSet) {
	d.pending = archs
}

// Preprocess resamples images to the active input size and rescales box
// coordinates to match. At the default size it returns its arguments unchanged.
func (d *Detector) Preprocess(images *tensor.Tensor, boxes []Boxes) (*tensor.Tensor, []Boxes) {
	scaleY := float64(d.inputSize.Height) / float64(d.defaultSize.Height)
	scaleX := float64(d.inputSize.Width) / float64(d.defaultSize.Width)
	if scaleX == 1 && scaleY == 1 {
		return images, boxes
	}
	images = tensor.ResizeBilinear(images, d.inputSize.Height, d.inputSize.Width)
	scaled := make([]Boxes, len(boxes))
	for i, bs := range boxes {
		scaled[i] = make(Boxes, len(bs))
		for j, b := range bs {
			scaled[i][j] = Box{b[0] * scaleX, b[1] * scaleY, b[2] * scaleX, b[3] * scaleY}
		}
	}
	return images, scaled
}

// ForwardTrain trains every config of the pending set (or the active config)
// on batch and returns per-config loss terms. With more than one config and
// an enabled distillation variant, configs 1..N-1 also get a feature
// distillation term against config 0.
//
// After the pass the input size may change for the next call.
func (d *Detector) ForwardTrain(ctx context.Context, batch *Batch) (LossMap, error) {
	archs := d.pending
	d.pending = nil
	if len(archs) == 0 {
		if d.active == nil {
			return nil, pkgerrors.WithStack(ErrUnconfigured)
		}
		archs = ArchitectureConfigSet{*d.active}
	}

	images, boxes := d.Preprocess(batch.Images, batch.Boxes)

	losses := make(LossMap, 4*len(archs))
	distilling := len(archs) > 1 && distill.Enabled(d.kd)
	var teacher tensor.Features
	for idx, arch := range archs {
		d.ApplyConfig(arch)

		features := d.neck.Forward(d.backbone.Forward(images))

		if distilling {
			if idx == 0 {
				teacher = features.Detach()
			} else {
				losses[fmt.Sprintf("%s_%d", LossKeyDistill, idx)] = d.distill(features, teacher)
			}
		}

		head, err := d.head.ForwardTrain(features, batch.Metas, boxes, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("head forward for config %d (%v): %w", idx, arch, err)
		}
		losses[fmt.Sprintf("%s_%d", LossKeyCls, idx)] = head.Cls
		losses[fmt.Sprintf("%s_%d", LossKeyBbox, idx)] = head.Bbox
		losses[fmt.Sprintf("%s_%d", LossKeyObj, idx)] = head.Obj
	}

	next, err := d.resizer.MaybeResize(ctx, d.progress, d.inputSize)
	if err != nil {
		return nil, err
	}
	d.inputSize = next
	d.progress++

	return losses, nil
}

func (d *Detector) distill(student, teacher tensor.Features) float64 {
	if len(student) != len(teacher) {
		panic(fmt.Errorf("%w: teacher %d, student %d", ErrFeatureArity, len(teacher), len(student)))
	}
	var total float64
	for level := range student {
		total += d.kd.Loss(student[level], teacher[level], level) * d.kdWeight
	}
	return total
}

// StepOutput is the result of one training step.
type StepOutput struct {
	Losses     LossMap
	Loss       float64            // sum of every term whose key contains "loss"
	LogVars    map[string]float64 // every term plus the total under "loss"
	NumSamples int
}

// TrainStep runs ForwardTrain and aggregates the loss terms. Backward and the
// optimizer update happen in OptimizerHook.
func (d *Detector) TrainStep(ctx context.Context, batch *Batch) (*StepOutput, error) {
	losses, err := d.ForwardTrain(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := ParseLosses(losses)
	out.NumSamples = batch.Size()
	return out, nil
}

// ParseLosses sums every term whose name contains "loss" into the total.
func ParseLosses(losses LossMap) *StepOutput {
	out := &StepOutput{
		Losses:  losses,
		LogVars: make(map[string]float64, len(losses)+1),
	}
	for _, k := range losses.Keys() {
		v := losses[k]
		out.LogVars[k] = v
		if strings.Contains(k, "loss") {
			out.Loss += v
		}
	}
	out.LogVars["loss"] = out.Loss
	return out
}
