// Package synthetic provides deterministic stand-ins for the collaborators
// the search core consumes: a width/depth-sliceable backbone and neck, a
// detection head returning named loss terms, a random-batch data loader, a
// scalar optimizer and a YAML progress checkpointer.
//
// The stand-ins exercise the control flow (sampling, reconfiguration,
// multi-scale resizing, distillation, hooks) without a tensor backend; their
// numbers carry no detection meaning.
package synthetic
