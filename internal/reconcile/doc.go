// Package reconcile turns the files dcm2niix writes for one acquisition into
// final BIDS names.
//
// dcm2niix is asked to write "<base>.nii.gz" but decorates the name with its
// own postfixes when an acquisition produces more than one image: _e2 for the
// second echo, _ph for phase data, _c3 for a coil, _Crop_1 for a cropped
// copy. The Resolver maps every postfix token onto an entity (echo, part),
// onto a fieldmap suffix via the rewrite table in fieldmap.go, or onto the acq
// label, and the Engine applies the result on disk together with the
// matching sidecars.
//
// With DynamicRun set, the run index is reallocated for each renamed image on
// its own, not once for the acquisition. When an earlier acquisition in the
// folder had fewer echoes, the echoes of a later one can therefore be spread
// over different run indices.
package reconcile
