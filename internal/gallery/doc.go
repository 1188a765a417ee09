// Package gallery reconstructs logical generations from the output directory
// pair: rendered videos in the output directory and png/json sidecars in the
// metadata directory.
//
// Every call rescans the filesystem. Nothing is cached between calls because
// new video variants may appear while a generation is still being extended.
package gallery
