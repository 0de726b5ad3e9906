// Package domain holds the detectsearch entities and the rules that need
// no I/O: label normalisation, polygon checks, cursor encoding and
// settings defaults.
//
// A DetectionRecord owns the DetectedObjects found in one image. The label
// index stores a LabelHit per (user, label, image) and pages through them
// with a Cursor. RawDetection is detector output before normalisation.
//
// Only the standard library may be imported here; every other package
// depends on domain.
package domain
