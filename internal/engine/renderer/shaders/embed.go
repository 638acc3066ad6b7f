// Package shaders provides embedded GLSL sources for the preview renderer.
package shaders

import _ "embed"

// PreviewVertex scales a unit quad to the letterboxed image size.
//
//go:embed preview.vert
var PreviewVertex string

// Preview2DFragment samples one mip level of a 2D texture.
//
//go:embed preview_2d.frag
var Preview2DFragment string

// PreviewArrayFragment samples one layer and mip level of a 2D array.
//
//go:embed preview_array.frag
var PreviewArrayFragment string
