// Package distribution holds the domain model for claimable distributions.
//
// A distribution is a titled, immutable list of text items gated by a trust
// level range. Each item is addressed by its position in the content list (the
// item index), which is the unit of allocation. A claim binds exactly one item
// index to exactly one identity and is never mutated or deleted.
//
// The package also hosts the eligibility evaluator, a pure function over a
// caller-supplied claim snapshot. The mutating allocation path lives in the
// service subpackage.
package distribution
