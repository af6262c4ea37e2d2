// Package mapengine composes typed geospatial event collections and
// user-controlled view state into an ordered list of renderable map layers.
//
// The package is renderer-agnostic: a host (see cmd/situmap-viewer for an
// ebiten reference implementation) pumps the Scheduler once per animation
// frame, draws whatever BuildLayers returns, and routes pointer picks back
// through the Composer's resolver. All state mutation is synchronous; all
// rendering is deferred to the next scheduled frame.
package mapengine
