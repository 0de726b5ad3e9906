// Package normalisers converts detector output into canonical detection
// records. Each normaliser is a pure transformation with an explicit
// validation boundary: malformed individual detections are dropped, while a
// malformed envelope is rejected with a validation error.
package normalisers
