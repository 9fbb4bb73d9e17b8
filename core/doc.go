// Package core defines the shared data model of the chartmesh runtime: the
// versioned runtime snapshot with its ring-buffered histories, the chat
// message types exchanged with model providers, the error taxonomy used
// across component boundaries, and the copy-on-write StateStore that makes
// every mutation visible to observers as an atomic snapshot+version pair.
package core
