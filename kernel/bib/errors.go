package bib

import "almos/kernel"

var (
	errMismatchedClusterCount = kernel.NewError("bib", kernel.EINVAL, "cluster descriptor count does not match header")
	errMissingRAMBank         = kernel.NewError("bib", kernel.EINVAL, "cluster is missing its device-0 RAM bank")
)
