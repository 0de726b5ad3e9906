// Package driven holds the interfaces the core services call to reach
// storage, detectors and metrics. Adapters under internal/adapters/driven
// implement them.
//
// Every service needs a DetectionStore, a LabelIndex and the IndexQueue
// that the store fills in the same write. The scheduler additionally needs
// a SchedulerStore, and settings come from a ConfigStore.
//
// A Detector and a Metrics sink are optional. Without a detector, ingest
// events must carry their own raw detections; without metrics nothing is
// recorded.
//
// This package imports only domain.
package driven
