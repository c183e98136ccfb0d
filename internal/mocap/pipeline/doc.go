// Package pipeline orchestrates the kinematics quality pipeline for one
// session: resample → calibrate → select cutoffs → filter → derive →
// gate → repair → persist.
//
// It is the composition root: it imports the domain package and the
// artifact store, but the domain package never imports pipeline. Each
// session is processed end to end by one logical worker; independent
// sessions share no mutable state and are safe to run in parallel.
package pipeline
