// Package match finds every rigid placement of a model point set inside a
// space point set.
//
// Each space transform is tried as the anchor for the model's local frame
// (the frame of model[0]). A candidate matches when every re-anchored model
// point has some space point within the tolerance. Matching is existential
// and non-injective: one space point may serve several model points, and
// the anchor itself stays in the target set.
// Key types: Engine, Options, MatchList, PointIndex.
//
// No I/O, logging or SQL is allowed in this package.
package match
