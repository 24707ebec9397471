// Package motion is the root of the motion matching engine.
//
// The engine picks, every frame, the clip pose whose features best continue
// the character's current motion and predicted path, then hides the jump with
// an inertial blend. Subpackages, leaves first:
//
//   - features: pose and trajectory feature vectors, normalisation, extraction
//   - kdtree: 16-dimension nearest neighbour index over feature points
//   - predict: input smoothing and analytic trajectory prediction
//   - inertial: critically damped spring blending and root motion deltas
//   - database: offline pose index with persisted cache
//   - matching: candidate retrieval and exact cost ranking
//   - controller: per-character frame loop and transition policy
//   - debug: bounded ring of search decisions for tuning
//   - monitor: trajectory plots and cost timeline reports
//
// This package only owns the shared logging streams.
package motion
