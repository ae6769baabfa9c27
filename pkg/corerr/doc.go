package corerr

// Historical band mapping, kept for operational dashboards built against the
// previous integer-coded system. Each entry pairs a (Kind, Layer) with the
// band the originating system used for the same failure.
//
//	Kind                  Layer          historical band
//	input-invalid         packager       -1 (reject, no retry)
//	input-invalid         blockbuilder   -3000, -4000 (VRF attach failures)
//	transient-peer        blockbuilder   -104..-105 (create-block sub-failures)
//	transient-peer        prehash         (quorum insufficient, abandon round)
//	executor              evmexec        -600..-700 (VM deploy/call bands)
//	invariant-violation   blockbuilder   -102..-103 (missing contract-info / dirty-contract)
//	input-invalid         blockbuilder   -8 (sign failure)
